// Package meta talks to the Meta Graph API on behalf of connected Instagram
// business accounts and Facebook pages, and verifies the webhooks Meta sends.
package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"reputation_hub/internal/adapters/httpx"
	"reputation_hub/internal/domain"
)

type Config struct {
	GraphBase   string // https://graph.facebook.com
	Version     string // v21.0
	AppID       string
	AppSecret   string
	RedirectURL string
	RPS         int
}

func (c Config) graphURL(path string, q url.Values) string {
	u := strings.TrimRight(c.GraphBase, "/") + "/" + c.Version + "/" + strings.TrimLeft(path, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

type Client struct {
	cfg  Config
	http *httpx.Client
}

var _ domain.MetaClient = (*Client)(nil)

func New(cfg Config) *Client {
	return &Client{cfg: cfg, http: httpx.New("meta_graph", cfg.RPS)}
}

// graphErr maps Graph OAuthException code 190 (expired or revoked token),
// which arrives as a 400, to ErrUnauthorized.
func graphErr(err error) error {
	var se *httpx.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(se.Body), &body) == nil && body.Error.Code == 190 {
		return fmt.Errorf("meta: %s: %w", body.Error.Message, domain.ErrUnauthorized)
	}
	return err
}

func (c *Client) do(ctx context.Context, r httpx.Request, out any) error {
	return graphErr(c.http.Do(ctx, r, out))
}

// SendMessage delivers a text DM through the Send API and returns the new mid.
func (c *Client) SendMessage(ctx context.Context, conn domain.Connection, recipientID, text string) (string, error) {
	body := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	if conn.Platform == domain.PlatformFacebook {
		body["messaging_type"] = "RESPONSE"
	}
	var out struct {
		RecipientID string `json:"recipient_id"`
		MessageID   string `json:"message_id"`
	}
	err := c.do(ctx, httpx.Request{
		Method:   http.MethodPost,
		URL:      c.cfg.graphURL("me/messages", nil),
		Endpoint: "send_message",
		Token:    conn.AccessToken,
		JSON:     body,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.MessageID == "" {
		return "", errors.New("meta: send api returned no message_id")
	}
	return out.MessageID, nil
}

// ReplyToComment posts a public reply and returns the new comment id.
func (c *Client) ReplyToComment(ctx context.Context, conn domain.Connection, commentID, text string) (string, error) {
	edge := "comments"
	if conn.Platform == domain.PlatformInstagram {
		edge = "replies"
	}
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, httpx.Request{
		Method:   http.MethodPost,
		URL:      c.cfg.graphURL(url.PathEscape(commentID)+"/"+edge, nil),
		Endpoint: "reply_comment",
		Token:    conn.AccessToken,
		Form:     url.Values{"message": {text}},
	}, &out)
	return out.ID, err
}

type dataPage struct {
	Data []map[string]any `json:"data"`
}

// ListMedia returns the most recent media (instagram) or posts (facebook).
func (c *Client) ListMedia(ctx context.Context, conn domain.Connection, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}
	path, fields := conn.ExternalAccountID+"/media", "id,caption,timestamp,permalink"
	if conn.Platform == domain.PlatformFacebook {
		path, fields = conn.ExternalAccountID+"/posts", "id,message,created_time,permalink_url"
	}
	var out dataPage
	err := c.do(ctx, httpx.Request{
		Method:   http.MethodGet,
		URL:      c.cfg.graphURL(path, url.Values{"fields": {fields}, "limit": {strconv.Itoa(limit)}}),
		Endpoint: "list_media",
		Token:    conn.AccessToken,
	}, &out)
	return out.Data, err
}

// ListComments returns top-level comments and replies for one media item or post.
func (c *Client) ListComments(ctx context.Context, conn domain.Connection, mediaID string) ([]map[string]any, error) {
	q := url.Values{"fields": {"id,text,username,timestamp,from,replies{id,text,username,timestamp,from}"}, "limit": {"50"}}
	if conn.Platform == domain.PlatformFacebook {
		q = url.Values{"fields": {"id,message,from,created_time,parent"}, "filter": {"stream"}, "limit": {"50"}}
	}
	var out dataPage
	err := c.do(ctx, httpx.Request{
		Method:   http.MethodGet,
		URL:      c.cfg.graphURL(url.PathEscape(mediaID)+"/comments", q),
		Endpoint: "list_comments",
		Token:    conn.AccessToken,
	}, &out)
	return out.Data, err
}

// GetUsername resolves a scoped user id to a display handle.
func (c *Client) GetUsername(ctx context.Context, conn domain.Connection, userID string) (string, error) {
	field := "username"
	if conn.Platform == domain.PlatformFacebook {
		field = "name"
	}
	var out map[string]any
	err := c.do(ctx, httpx.Request{
		Method:   http.MethodGet,
		URL:      c.cfg.graphURL(url.PathEscape(userID), url.Values{"fields": {field}}),
		Endpoint: "get_user",
		Token:    conn.AccessToken,
	}, &out)
	if err != nil {
		return "", err
	}
	s, _ := out[field].(string)
	return s, nil
}
