package app_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"reputation_hub/internal/app"
	"reputation_hub/internal/domain"
)

type fakeGoogleAuth struct {
	locs []domain.GBPLocation
}

func (f *fakeGoogleAuth) AuthCodeURL(state string) string {
	return "https://accounts.example/auth?state=" + url.QueryEscape(state)
}

func (f *fakeGoogleAuth) Exchange(ctx context.Context, code string) (domain.OAuthToken, error) {
	if code != "good" {
		return domain.OAuthToken{}, domain.ErrUnauthorized
	}
	return domain.OAuthToken{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeGoogleAuth) ListLocations(ctx context.Context, tok domain.OAuthToken) ([]domain.GBPLocation, error) {
	return f.locs, nil
}

type fakeMetaAuth struct {
	pages []domain.MetaPage
}

func (f *fakeMetaAuth) AuthCodeURL(state string) string {
	return "https://www.facebook.example/dialog/oauth?state=" + url.QueryEscape(state)
}

func (f *fakeMetaAuth) ExchangeCode(ctx context.Context, code string) (domain.OAuthToken, error) {
	return domain.OAuthToken{AccessToken: "short"}, nil
}

func (f *fakeMetaAuth) ExchangeLongLived(ctx context.Context, short string) (domain.OAuthToken, error) {
	return domain.OAuthToken{AccessToken: "long-" + short}, nil
}

func (f *fakeMetaAuth) ListPages(ctx context.Context, userToken string) ([]domain.MetaPage, error) {
	return f.pages, nil
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return u.Query().Get("state")
}

func TestGoogleConnectFlow(t *testing.T) {
	repo := newFakeRepo()
	repo.addLocation("loc-1", "Cafe", "u1")
	ga := &fakeGoogleAuth{locs: []domain.GBPLocation{
		{Name: "accounts/1/locations/9", Title: "Other"},
		{Name: "accounts/1/locations/2", Title: "Cafe Main"},
	}}
	gbp := "accounts/1/locations/2"
	l := repo.locations["loc-1"]
	l.GBPLocation = &gbp
	repo.locations["loc-1"] = l
	svc := app.NewConnectionService(repo, ga, nil, nil, "state-secret")

	authURL, err := svc.GoogleAuthURL(context.Background(), "u1", "loc-1")
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	conn, err := svc.GoogleCallback(context.Background(), "good", stateFrom(t, authURL))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if conn.ExternalAccountID != gbp || conn.AccessToken != "at" || deref(conn.RefreshToken) != "rt" || conn.TokenExpiry == nil {
		t.Fatalf("unexpected connection: %+v", conn)
	}
	if _, err := repo.GetConnection(context.Background(), "loc-1", domain.PlatformGoogle); err != nil {
		t.Fatalf("connection not stored: %v", err)
	}
}

func TestCallback_RejectsBadState(t *testing.T) {
	repo := newFakeRepo()
	repo.addLocation("loc-1", "Cafe", "u1")
	ga := &fakeGoogleAuth{locs: []domain.GBPLocation{{Name: "accounts/1/locations/2"}}}
	svc := app.NewConnectionService(repo, ga, &fakeMetaAuth{}, nil, "state-secret")
	other := app.NewConnectionService(repo, ga, nil, nil, "another-secret")

	forged, _ := other.GoogleAuthURL(context.Background(), "u1", "loc-1")
	if _, err := svc.GoogleCallback(context.Background(), "good", stateFrom(t, forged)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("forged state: %v", err)
	}

	metaURL, _ := svc.MetaAuthURL(context.Background(), "u1", "loc-1")
	if _, err := svc.GoogleCallback(context.Background(), "good", stateFrom(t, metaURL)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("state from another flow: %v", err)
	}

	stranger, _ := svc.GoogleAuthURL(context.Background(), "u2", "loc-1")
	if _, err := svc.GoogleCallback(context.Background(), "good", stateFrom(t, stranger)); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("non-member: %v", err)
	}
}

func TestMetaConnectFlow_PrefersPageWithInstagram(t *testing.T) {
	repo := newFakeRepo()
	repo.addLocation("loc-1", "Cafe", "u1")
	ma := &fakeMetaAuth{pages: []domain.MetaPage{
		{ID: "p1", Name: "Side Page", AccessToken: "pt1"},
		{ID: "p2", Name: "Cafe", AccessToken: "pt2", InstagramID: "ig-2", InstagramUsername: "cafe"},
	}}
	svc := app.NewConnectionService(repo, nil, ma, nil, "state-secret")

	authURL, _ := svc.MetaAuthURL(context.Background(), "u1", "loc-1")
	conns, err := svc.MetaCallback(context.Background(), "code", stateFrom(t, authURL))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("want facebook and instagram, got %+v", conns)
	}
	fb, _ := repo.GetConnection(context.Background(), "loc-1", domain.PlatformFacebook)
	ig, _ := repo.GetConnection(context.Background(), "loc-1", domain.PlatformInstagram)
	if fb.ExternalAccountID != "p2" || ig.ExternalAccountID != "ig-2" || ig.AccessToken != "pt2" {
		t.Fatalf("unexpected connections: %+v / %+v", fb, ig)
	}
}

func TestMetaConnectFlow_PageWithoutInstagramRetiresOldConnection(t *testing.T) {
	repo := newFakeRepo()
	repo.addLocation("loc-1", "Cafe", "u1")
	repo.addConnection(domain.Connection{LocationID: "loc-1", Platform: domain.PlatformInstagram, ExternalAccountID: "ig-old", AccessToken: "old-page-token"})
	ma := &fakeMetaAuth{pages: []domain.MetaPage{{ID: "p3", Name: "New Page", AccessToken: "pt3"}}}
	svc := app.NewConnectionService(repo, nil, ma, nil, "state-secret")

	authURL, _ := svc.MetaAuthURL(context.Background(), "u1", "loc-1")
	conns, err := svc.MetaCallback(context.Background(), "code", stateFrom(t, authURL))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if len(conns) != 1 || conns[0].Platform != domain.PlatformFacebook {
		t.Fatalf("want only facebook, got %+v", conns)
	}
	ig, _ := repo.GetConnection(context.Background(), "loc-1", domain.PlatformInstagram)
	if ig.Status != domain.ConnectionDisconnected {
		t.Fatalf("stale instagram connection still %q", ig.Status)
	}
	if _, err := repo.FindConnectionByAccount(context.Background(), domain.PlatformInstagram, "ig-old"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("retired account still resolvable: %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	repo := newFakeRepo()
	repo.addConnection(domain.Connection{LocationID: "loc-1", Platform: domain.PlatformFacebook, ExternalAccountID: "p"})
	svc := app.NewConnectionService(repo, nil, nil, newFakeCache(), "s")

	if err := svc.Disconnect(context.Background(), "loc-1", domain.PlatformFacebook); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := svc.Disconnect(context.Background(), "loc-1", domain.PlatformFacebook); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("second disconnect: %v", err)
	}
	if err := svc.Disconnect(context.Background(), "loc-1", "myspace"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad platform: %v", err)
	}
}
