package meta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reputation_hub/internal/domain"
)

func testConfig(base string) Config {
	return Config{GraphBase: base, Version: "v21.0", AppID: "app", AppSecret: "sec", RPS: 100}
}

func TestSendMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v21.0/me/messages" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer page-token" {
			t.Errorf("missing page token")
		}
		var body struct {
			Recipient struct{ ID string }   `json:"recipient"`
			Message   struct{ Text string } `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Recipient.ID != "u1" || body.Message.Text != "thanks!" {
			t.Errorf("unexpected body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"recipient_id":"u1","message_id":"m_out"}`))
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	conn := domain.Connection{Platform: domain.PlatformInstagram, ExternalAccountID: "ig-1", AccessToken: "page-token"}
	mid, err := c.SendMessage(context.Background(), conn, "u1", "thanks!")
	if err != nil || mid != "m_out" {
		t.Fatalf("mid=%q err=%v", mid, err)
	}
}

func TestReplyToComment_EdgePerPlatform(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("message") != "hello" {
			t.Errorf("message not form encoded")
		}
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"reply-1"}`))
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	for _, p := range []domain.Platform{domain.PlatformInstagram, domain.PlatformFacebook} {
		id, err := c.ReplyToComment(context.Background(), domain.Connection{Platform: p, AccessToken: "t"}, "c1", "hello")
		if err != nil || id != "reply-1" {
			t.Fatalf("%s: id=%q err=%v", p, id, err)
		}
	}
	if len(paths) != 2 || paths[0] != "/v21.0/c1/replies" || paths[1] != "/v21.0/c1/comments" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestExpiredTokenMapsToUnauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Session has expired","type":"OAuthException","code":190}}`))
	}))
	defer ts.Close()

	_, err := New(testConfig(ts.URL)).ListMedia(context.Background(),
		domain.Connection{Platform: domain.PlatformInstagram, ExternalAccountID: "ig-1", AccessToken: "old"}, 5)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestListPagesAndLongLived(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v21.0/oauth/access_token":
			if r.URL.Query().Get("grant_type") != "fb_exchange_token" || r.URL.Query().Get("fb_exchange_token") != "short" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"access_token":"long","token_type":"bearer","expires_in":5184000}`))
		case "/v21.0/me/accounts":
			_, _ = w.Write([]byte(`{"data":[
			  {"id":"p1","name":"Cafe","access_token":"pt1","instagram_business_account":{"id":"ig-1","username":"cafe"}},
			  {"id":"p2","name":"Other","access_token":"pt2"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	a := NewAuth(testConfig(ts.URL))
	tok, err := a.ExchangeLongLived(context.Background(), "short")
	if err != nil || tok.AccessToken != "long" || tok.Expiry.IsZero() {
		t.Fatalf("long lived: %+v %v", tok, err)
	}
	pages, err := a.ListPages(context.Background(), "long")
	if err != nil || len(pages) != 2 {
		t.Fatalf("pages: %+v %v", pages, err)
	}
	if pages[0].InstagramID != "ig-1" || pages[0].AccessToken != "pt1" || pages[1].InstagramID != "" {
		t.Fatalf("unexpected pages: %+v", pages)
	}
}

func TestAuthCodeURL(t *testing.T) {
	u := NewAuth(Config{GraphBase: "https://graph.facebook.com", Version: "v21.0", AppID: "app", RedirectURL: "https://x/cb"}).
		AuthCodeURL("state-1")
	for _, want := range []string{"https://www.facebook.com/v21.0/dialog/oauth", "client_id=app", "state=state-1", "instagram_manage_messages"} {
		if !strings.Contains(u, want) {
			t.Fatalf("auth url %q missing %q", u, want)
		}
	}
}
