package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"reputation_hub/internal/domain"
)

type fakeSaver struct {
	mu    sync.Mutex
	saved map[string]domain.OAuthToken
}

func (f *fakeSaver) UpdateConnectionToken(_ context.Context, id string, tok domain.OAuthToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = map[string]domain.OAuthToken{}
	}
	f.saved[id] = tok
	return nil
}

func pstr(s string) *string { return &s }

func TestListReviews_RefreshesAndPersistsToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			_ = r.ParseForm()
			if r.PostForm.Get("grant_type") != "refresh_token" {
				t.Errorf("unexpected grant: %v", r.PostForm)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
		case r.URL.Path == "/v4/accounts/1/locations/2/reviews":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.URL.Query().Get("pageToken") != "p2" {
				t.Errorf("page token not forwarded")
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"reviews": []map[string]any{{
					"name":       "accounts/1/locations/2/reviews/r1",
					"starRating": "FOUR",
				}},
				"nextPageToken": "p3",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	saver := &fakeSaver{}
	c := New(Config{ClientID: "id", ClientSecret: "sec", APIBase: ts.URL, RPS: 100}, saver)
	expired := time.Now().Add(-time.Hour)
	conn := domain.Connection{
		ID: "conn-1", Platform: domain.PlatformGoogle, ExternalAccountID: "accounts/1/locations/2",
		AccessToken: "stale", RefreshToken: pstr("refresh"), TokenExpiry: &expired,
	}

	page, err := c.ListReviews(context.Background(), conn, "p2")
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(page.Reviews) != 1 || page.NextPageToken != "p3" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if got := saver.saved["conn-1"]; got.AccessToken != "fresh" {
		t.Fatalf("refreshed token not persisted: %+v", saver.saved)
	}
}

func TestUpdateAndDeleteReply(t *testing.T) {
	var calls []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["comment"] != "Thank you!" {
				t.Errorf("unexpected body %v", body)
			}
			_, _ = w.Write([]byte(`{"comment":"Thank you!"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := New(Config{APIBase: ts.URL, RPS: 100}, nil)
	future := time.Now().Add(time.Hour)
	conn := domain.Connection{AccessToken: "valid", TokenExpiry: &future}
	name := "accounts/1/locations/2/reviews/r1"

	if err := c.UpdateReply(context.Background(), conn, name, "Thank you!"); err != nil {
		t.Fatalf("UpdateReply: %v", err)
	}
	if err := c.DeleteReply(context.Background(), conn, name); err != nil {
		t.Fatalf("DeleteReply: %v", err)
	}
	want := []string{"PUT /v4/" + name + "/reply", "DELETE /v4/" + name + "/reply"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v", calls)
	}
}

func TestListLocations(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts":
			_, _ = w.Write([]byte(`{"accounts":[{"name":"accounts/1","accountName":"Me"}]}`))
		case "/v1/accounts/1/locations":
			if r.URL.Query().Get("pageToken") == "" {
				_, _ = w.Write([]byte(`{"locations":[{"name":"locations/2","title":"Downtown"}],"nextPageToken":"n"}`))
				return
			}
			_, _ = w.Write([]byte(`{"locations":[{"name":"locations/3","title":"Uptown"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := New(Config{APIBase: ts.URL, RPS: 100}, nil)
	locs, err := c.ListLocations(context.Background(), domain.OAuthToken{AccessToken: "a"})
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(locs) != 2 || locs[0].Name != "accounts/1/locations/2" || locs[1].Title != "Uptown" {
		t.Fatalf("unexpected locations: %+v", locs)
	}
}

func TestAuthCodeURL_Offline(t *testing.T) {
	u := New(Config{ClientID: "cid", RedirectURL: "https://x/oauth/google/callback"}, nil).AuthCodeURL("st")
	for _, want := range []string{"accounts.google.com", "access_type=offline", "prompt=consent", "business.manage", "state=st"} {
		if !strings.Contains(u, want) {
			t.Fatalf("%q missing %q", u, want)
		}
	}
}
