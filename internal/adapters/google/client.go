// Package google wraps the Google Business Profile APIs: OAuth, location
// discovery and review reply management.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"reputation_hub/internal/adapters/httpx"
	"reputation_hub/internal/domain"
)

const Scope = "https://www.googleapis.com/auth/business.manage"

const (
	reviewsHost  = "https://mybusiness.googleapis.com"
	accountsHost = "https://mybusinessaccountmanagement.googleapis.com"
	infoHost     = "https://mybusinessbusinessinformation.googleapis.com"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	APIBase      string // overrides every Google host, token endpoint included
	RPS          int
}

// TokenSaver persists tokens refreshed during a call.
type TokenSaver interface {
	UpdateConnectionToken(ctx context.Context, id string, tok domain.OAuthToken) error
}

type Client struct {
	oauth *oauth2.Config
	http  *httpx.Client
	saver TokenSaver

	reviewsBase  string
	accountsBase string
	infoBase     string
}

var (
	_ domain.GoogleClient = (*Client)(nil)
	_ domain.GoogleAuth   = (*Client)(nil)
)

func New(cfg Config, saver TokenSaver) *Client {
	ep := googleoauth.Endpoint
	c := &Client{
		http:         httpx.New("google_gbp", cfg.RPS),
		saver:        saver,
		reviewsBase:  reviewsHost,
		accountsBase: accountsHost,
		infoBase:     infoHost,
	}
	if b := strings.TrimRight(cfg.APIBase, "/"); b != "" {
		c.reviewsBase, c.accountsBase, c.infoBase = b, b, b
		ep.TokenURL = b + "/token"
	}
	c.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{Scope},
		Endpoint:     ep,
	}
	return c
}

// ---- OAuth ----

// AuthCodeURL asks for offline access so a refresh token is issued.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (c *Client) Exchange(ctx context.Context, code string) (domain.OAuthToken, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("google code exchange: %w", err)
	}
	return fromOAuth(tok), nil
}

func fromOAuth(t *oauth2.Token) domain.OAuthToken {
	return domain.OAuthToken{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, Expiry: t.Expiry}
}

// token returns a valid access token for conn, refreshing and persisting it
// when the stored one has expired.
func (c *Client) token(ctx context.Context, conn domain.Connection) (string, error) {
	cur := &oauth2.Token{AccessToken: conn.AccessToken, TokenType: "Bearer"}
	if conn.RefreshToken != nil {
		cur.RefreshToken = *conn.RefreshToken
	}
	if conn.TokenExpiry != nil {
		cur.Expiry = *conn.TokenExpiry
	}
	tok, err := c.oauth.TokenSource(ctx, cur).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", fmt.Errorf("google token refresh: %s: %w", re.ErrorCode, domain.ErrUnauthorized)
		}
		return "", err
	}
	if tok.AccessToken != conn.AccessToken && c.saver != nil && conn.ID != "" {
		if err := c.saver.UpdateConnectionToken(ctx, conn.ID, fromOAuth(tok)); err != nil {
			log.Warn().Err(err).Str("connection", conn.ID).Msg("persist refreshed google token")
		}
	}
	return tok.AccessToken, nil
}

// ListLocations enumerates every location of every account the token can see.
func (c *Client) ListLocations(ctx context.Context, tok domain.OAuthToken) ([]domain.GBPLocation, error) {
	var accounts struct {
		Accounts []struct {
			Name        string `json:"name"`
			AccountName string `json:"accountName"`
		} `json:"accounts"`
	}
	if err := c.http.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		URL:      c.accountsBase + "/v1/accounts",
		Endpoint: "accounts",
		Token:    tok.AccessToken,
	}, &accounts); err != nil {
		return nil, err
	}

	var out []domain.GBPLocation
	for _, a := range accounts.Accounts {
		pageToken := ""
		for {
			q := url.Values{"readMask": {"name,title"}, "pageSize": {"100"}}
			if pageToken != "" {
				q.Set("pageToken", pageToken)
			}
			var page struct {
				Locations []struct {
					Name  string `json:"name"` // locations/{id}
					Title string `json:"title"`
				} `json:"locations"`
				NextPageToken string `json:"nextPageToken"`
			}
			if err := c.http.Do(ctx, httpx.Request{
				Method:   http.MethodGet,
				URL:      c.infoBase + "/v1/" + a.Name + "/locations?" + q.Encode(),
				Endpoint: "locations",
				Token:    tok.AccessToken,
			}, &page); err != nil {
				return nil, err
			}
			for _, l := range page.Locations {
				out = append(out, domain.GBPLocation{Name: a.Name + "/" + l.Name, Title: l.Title})
			}
			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
		}
	}
	return out, nil
}

// ---- Reviews ----

// ListReviews returns one page of reviews for the location stored as the
// connection's external account id (accounts/{a}/locations/{l}).
func (c *Client) ListReviews(ctx context.Context, conn domain.Connection, pageToken string) (domain.GoogleReviewsPage, error) {
	at, err := c.token(ctx, conn)
	if err != nil {
		return domain.GoogleReviewsPage{}, err
	}
	q := url.Values{"pageSize": {"50"}, "orderBy": {"updateTime desc"}}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	var out struct {
		Reviews       []map[string]any `json:"reviews"`
		NextPageToken string           `json:"nextPageToken"`
	}
	if err := c.http.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		URL:      c.reviewsBase + "/v4/" + conn.ExternalAccountID + "/reviews?" + q.Encode(),
		Endpoint: "list_reviews",
		Token:    at,
	}, &out); err != nil {
		return domain.GoogleReviewsPage{}, err
	}
	return domain.GoogleReviewsPage{Reviews: out.Reviews, NextPageToken: out.NextPageToken}, nil
}

func (c *Client) UpdateReply(ctx context.Context, conn domain.Connection, reviewName, text string) error {
	at, err := c.token(ctx, conn)
	if err != nil {
		return err
	}
	return c.http.Do(ctx, httpx.Request{
		Method:   http.MethodPut,
		URL:      c.reviewsBase + "/v4/" + reviewName + "/reply",
		Endpoint: "update_reply",
		Token:    at,
		JSON:     map[string]string{"comment": text},
	}, nil)
}

func (c *Client) DeleteReply(ctx context.Context, conn domain.Connection, reviewName string) error {
	at, err := c.token(ctx, conn)
	if err != nil {
		return err
	}
	return c.http.Do(ctx, httpx.Request{
		Method:   http.MethodDelete,
		URL:      c.reviewsBase + "/v4/" + reviewName + "/reply",
		Endpoint: "delete_reply",
		Token:    at,
	}, nil)
}
