package meta

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"reputation_hub/internal/adapters/httpx"
	"reputation_hub/internal/domain"
)

var Scopes = []string{
	"instagram_basic",
	"instagram_manage_messages",
	"instagram_manage_comments",
	"pages_show_list",
	"pages_messaging",
	"pages_read_engagement",
	"pages_manage_metadata",
}

type Auth struct {
	cfg   Config
	oauth *oauth2.Config
	http  *httpx.Client
}

var _ domain.MetaAuth = (*Auth)(nil)

func NewAuth(cfg Config) *Auth {
	ep := facebook.Endpoint
	ep.AuthURL = "https://www.facebook.com/" + cfg.Version + "/dialog/oauth"
	ep.TokenURL = cfg.graphURL("oauth/access_token", nil)
	ep.AuthStyle = oauth2.AuthStyleInParams
	return &Auth{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{strings.Join(Scopes, ",")},
			Endpoint:     ep,
		},
		http: httpx.New("meta_oauth", cfg.RPS),
	}
}

func (a *Auth) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

func (a *Auth) ExchangeCode(ctx context.Context, code string) (domain.OAuthToken, error) {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("meta code exchange: %w", err)
	}
	return domain.OAuthToken{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}

// ExchangeLongLived swaps a short-lived user token for a ~60 day one.
func (a *Auth) ExchangeLongLived(ctx context.Context, shortLived string) (domain.OAuthToken, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := a.http.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "long_lived_token",
		URL: a.cfg.graphURL("oauth/access_token", url.Values{
			"grant_type":        {"fb_exchange_token"},
			"client_id":         {a.cfg.AppID},
			"client_secret":     {a.cfg.AppSecret},
			"fb_exchange_token": {shortLived},
		}),
	}, &out)
	if err != nil {
		return domain.OAuthToken{}, graphErr(err)
	}
	tok := domain.OAuthToken{AccessToken: out.AccessToken}
	if out.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second).UTC()
	}
	return tok, nil
}

// ListPages returns the pages the user manages with their page tokens and
// any linked instagram business account.
func (a *Auth) ListPages(ctx context.Context, userToken string) ([]domain.MetaPage, error) {
	var out struct {
		Data []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			AccessToken string `json:"access_token"`
			Instagram   *struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}
	err := a.http.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "list_pages",
		Token:    userToken,
		URL: a.cfg.graphURL("me/accounts", url.Values{
			"fields": {"id,name,access_token,instagram_business_account{id,username}"},
			"limit":  {"100"},
		}),
	}, &out)
	if err != nil {
		return nil, graphErr(err)
	}
	pages := make([]domain.MetaPage, 0, len(out.Data))
	for _, p := range out.Data {
		mp := domain.MetaPage{ID: p.ID, Name: p.Name, AccessToken: p.AccessToken}
		if p.Instagram != nil {
			mp.InstagramID = p.Instagram.ID
			mp.InstagramUsername = p.Instagram.Username
		}
		pages = append(pages, mp)
	}
	return pages, nil
}
