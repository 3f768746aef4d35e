package httpserver

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"reputation_hub/internal/adapters/observability"
	"reputation_hub/internal/domain"
)

// Timeout is applied per route group; the SSE stream cannot sit behind
// http.TimeoutHandler because its writer does not flush.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return http.TimeoutHandler(next, d, "timeout") }
}

// ---- status-recording ResponseWriter ----

type srw struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *srw) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *srw) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *srw) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Unwrap lets http.ResponseController reach the underlying Flusher.
func (w *srw) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// ---- Metrics middleware ----

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &srw{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		observability.ObserveHTTP(routePattern(r), r.Method, sw.Status(), time.Since(start))
	})
}

// ---- Structured logging middleware ----

func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &srw{ResponseWriter: w}
			r, who := withPrincipalSlot(r)
			next.ServeHTTP(sw, r)
			ev := l.Info().
				Str("route", routePattern(r)).
				Str("method", r.Method).
				Int("status", sw.Status()).
				Dur("duration", time.Since(start)).
				Str("remote", remoteIP(r)).
				Str("ua", r.UserAgent())
			if who.UserID != "" {
				ev = ev.Str("user", who.UserID)
			}
			ev.Msg("http_request")
		})
	}
}

// Picks first X-Forwarded-For IP, else X-Real-IP, else RemoteAddr host.
func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// ---- Authentication ----

type ctxKey int

const principalKey ctxKey = iota

// withPrincipalSlot gives outer middleware (the logger) a slot that
// RequireAuth fills in further down the chain.
func withPrincipalSlot(r *http.Request) (*http.Request, *domain.Principal) {
	if p, ok := r.Context().Value(principalKey).(*domain.Principal); ok {
		return r, p
	}
	p := &domain.Principal{}
	return r.WithContext(context.WithValue(r.Context(), principalKey, p)), p
}

func principalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*domain.Principal)
	if !ok || p == nil || p.UserID == "" {
		return domain.Principal{}, false
	}
	return *p, true
}

// RequireAuth accepts "Authorization: Bearer <jwt>"; EventSource cannot set
// headers, so the events stream may pass the token as ?access_token=.
func RequireAuth(v domain.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			p, err := v.Verify(raw)
			if err != nil {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
				return
			}
			r, slot := withPrincipalSlot(r)
			*slot = p
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if strings.HasSuffix(r.URL.Path, "/events") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// RequireMember 404s locations the user is not a member of, so ids of other
// tenants cannot be probed.
func RequireMember(members domain.LocationStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing principal")
				return
			}
			loc := chi.URLParam(r, "locationID")
			member, err := members.IsMember(r.Context(), loc, p.UserID)
			if err != nil {
				writeErr(w, r, err)
				return
			}
			if !member {
				writeProblem(w, http.StatusNotFound, "Not Found", "location not found")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
