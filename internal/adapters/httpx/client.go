// Package httpx is the outbound HTTP client shared by the platform adapters:
// client-side rate limiting, bounded retries with jittered backoff, and a
// circuit breaker per upstream.
package httpx

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"reputation_hub/internal/adapters/observability"
	"reputation_hub/internal/domain"
)

var (
	ErrNotFound     = fmt.Errorf("upstream: %w", domain.ErrNotFound)
	ErrUnauthorized = fmt.Errorf("upstream: %w", domain.ErrUnauthorized)
	ErrForbidden    = fmt.Errorf("upstream: %w", domain.ErrForbidden)
)

// StatusError is a non-retryable upstream response outside the mapped statuses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %d: %s", e.Code, e.Body)
}

type Client struct {
	name      string
	hc        *http.Client
	rl        *rate.Limiter
	cb        *gobreaker.CircuitBreaker[any]
	userAgent string
}

func New(name string, rps int) *Client {
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		name:      name,
		hc:        &http.Client{Timeout: 20 * time.Second},
		rl:        rate.NewLimiter(rate.Limit(rps), rps),
		cb:        newBreaker(name),
		userAgent: "reputation-hub/1.0",
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	observability.ObserveBreaker(name, 0)
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			observability.ObserveBreaker(name, int(to))
		},
	})
}

// Request describes one call. Exactly one of JSON or Form may be set.
type Request struct {
	Method   string
	URL      string
	Endpoint string // metrics label
	Token    string // bearer token, optional
	JSON     any
	Form     url.Values
}

// clientFault carries 4xx outcomes through the breaker without counting them
// as upstream failures.
type clientFault struct{ err error }

// Do runs the request and decodes a JSON response into out (which may be nil).
func (c *Client) Do(ctx context.Context, r Request, out any) error {
	res, err := c.cb.Execute(func() (any, error) {
		err := c.do(ctx, r, out)
		if err != nil && isClientFault(err) {
			return clientFault{err}, nil
		}
		return nil, err
	})
	if cf, ok := res.(clientFault); ok {
		return cf.err
	}
	return err
}

func isClientFault(err error) bool {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrForbidden) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// do retries on 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) do(ctx context.Context, r Request, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	contentType := ""
	switch {
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return err
		}
		payload, contentType = b, "application/json"
	case r.Form != nil:
		payload, contentType = []byte(r.Form.Encode()), "application/x-www-form-urlencoded"
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		// build a fresh request each attempt
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
		if err != nil {
			return err
		}
		if r.Token != "" {
			req.Header.Set("Authorization", "Bearer "+r.Token)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observability.ObserveExternal(c.name, r.Endpoint, 0, time.Since(start))
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal(c.name, r.Endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			defer resp.Body.Close()
			if out == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil
			}
			return json.NewDecoder(resp.Body).Decode(out)

		case http.StatusNoContent:
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("%s remote %d", c.name, resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns false if ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date); 0 if absent or invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles from 200ms per attempt with up to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
