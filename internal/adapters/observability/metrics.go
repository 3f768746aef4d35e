package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rephub", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rephub", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rephub", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rephub", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rephub", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rephub", Name: "webhook_events_total", Help: "Normalized webhook events."},
		[]string{"platform", "kind", "outcome"}, // outcome: stored|duplicate|skipped|error
	)
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rephub", Name: "sync_runs_total", Help: "Polling sync runs."},
		[]string{"source", "outcome"},
	)
	DraftsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rephub", Name: "drafts_generated_total", Help: "AI reply drafts."},
		[]string{"target", "outcome"},
	)
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "rephub", Name: "circuit_breaker_state", Help: "0 closed, 1 half-open, 2 open."},
		[]string{"name"},
	)
)

// Serve starts a dedicated metrics listener; an empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		WebhookEvents, SyncRuns, DraftsGenerated, BreakerState)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveWebhook(platform, kind, outcome string) {
	WebhookEvents.WithLabelValues(platform, kind, outcome).Inc()
}

func ObserveSync(source, outcome string) {
	SyncRuns.WithLabelValues(source, outcome).Inc()
}

func ObserveDraft(target, outcome string) {
	DraftsGenerated.WithLabelValues(target, outcome).Inc()
}

func ObserveBreaker(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}
