package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const sseKeepAlive = 25 * time.Second

// events streams the location's realtime events as Server-Sent Events until
// the client goes away.
func (h *Handlers) events(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "realtime events disabled")
		return
	}
	loc := location(r)
	ch, cancel, err := h.Events.Subscribe(r.Context(), loc)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Error().Err(err).Msg("sse: response does not support flushing")
		return
	}

	tick := time.NewTicker(sseKeepAlive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("sse: marshal event failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, b); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
