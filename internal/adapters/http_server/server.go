package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"

	"reputation_hub/internal/domain"
)

const requestTimeout = 15 * time.Second

type Options struct {
	CORSOrigins  []string
	RateLimitRPM int
}

type Server struct {
	mux  *chi.Mux
	opts Options
}

func New(opts Options) *Server {
	m := chi.NewRouter()

	// All middlewares go here (before any routes are added)
	m.Use(chimw.RealIP)
	m.Use(chimw.RequestID)
	m.Use(chimw.Recoverer)
	m.Use(Metrics)
	m.Use(Logger(log.Logger))
	m.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	return &Server{mux: m, opts: opts}
}

func (s *Server) Mux() http.Handler { return s.mux }

// Mount attaches any extra handler (e.g., /metrics) to the router.
func (s *Server) Mount(path string, h http.Handler) {
	s.mux.Handle(path, h)
}

func (s *Server) MountWebhooks(wh *Webhooks) {
	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(requestTimeout))
		r.Get("/webhooks/instagram", wh.verify)
		r.Post("/webhooks/instagram", wh.receive(domain.PlatformInstagram))
		r.Get("/webhooks/facebook", wh.verify)
		r.Post("/webhooks/facebook", wh.receive(domain.PlatformFacebook))
	})
}

// MountHandlers registers the dashboard API behind verifier and the OAuth
// callbacks, which authenticate through their signed state instead.
func (s *Server) MountHandlers(h *Handlers, verifier domain.TokenVerifier, members domain.LocationStore) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(requestTimeout))
		r.Get("/oauth/google/callback", h.oauthCallback(domain.PlatformGoogle))
		r.Get("/oauth/meta/callback", h.oauthCallback(domain.PlatformFacebook))
	})

	rpm := s.opts.RateLimitRPM
	if rpm <= 0 {
		rpm = 300
	}
	s.mux.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rpm, time.Minute))
		r.Use(RequireAuth(verifier))

		r.With(Timeout(requestTimeout)).Get("/locations", h.listLocations)

		r.Route("/locations/{locationID}", func(r chi.Router) {
			r.Use(RequireMember(members))

			// long-lived stream; no request timeout
			r.Get("/events", h.events)

			r.Group(func(r chi.Router) {
				r.Use(Timeout(requestTimeout))

				r.Get("/reviews", h.listReviews)
				r.Post("/reviews/{id}/draft", h.draft(domain.DraftForReview))
				r.Put("/reviews/{id}/reply", h.replyReview)
				r.Delete("/reviews/{id}/reply", h.deleteReviewReply)

				r.Get("/conversations", h.listConversations)
				r.Get("/conversations/{id}/messages", h.listMessages)
				r.Post("/conversations/{id}/messages", h.sendMessage)
				r.Post("/conversations/{id}/draft", h.draft(domain.DraftForConversation))

				r.Get("/comments", h.listComments)
				r.Post("/comments/{id}/reply", h.replyComment)
				r.Post("/comments/{id}/draft", h.draft(domain.DraftForComment))

				r.Get("/analytics", h.analytics)

				r.Get("/connections", h.listConnections)
				r.Get("/connections/google/authorize", h.authorize(domain.PlatformGoogle))
				r.Get("/connections/meta/authorize", h.authorize(domain.PlatformFacebook))
				r.Delete("/connections/{platform}", h.disconnect)
				r.Post("/sync", h.syncNow)
			})
		})
	})
}
