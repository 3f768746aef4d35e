package httpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/adapters/meta"
	"reputation_hub/internal/app"
	"reputation_hub/internal/domain"
)

const maxWebhookBody = 1 << 20

type WebhookProcessor interface {
	Process(ctx context.Context, b domain.WebhookBatch) (app.Result, error)
}

// Webhooks serves the Meta subscription endpoints for one app.
type Webhooks struct {
	VerifyToken string
	AppSecret   string
	Processor   WebhookProcessor
	Now         func() time.Time
}

// verify answers the subscription handshake: the challenge is echoed back
// byte for byte when mode and token match.
func (wh *Webhooks) verify(w http.ResponseWriter, r *http.Request) {
	if wh.VerifyToken == "" {
		log.Error().Msg("webhook verify token not configured")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "verify token not configured")
		return
	}
	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")
	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(wh.VerifyToken)) != 1 {
		log.Warn().Str("mode", mode).Str("remote", remoteIP(r)).Msg("webhook verification rejected")
		writeProblem(w, http.StatusForbidden, "Forbidden", "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// receive authenticates the raw body before parsing anything. Storage
// failures answer 500 so Meta redelivers; storage is idempotent.
func (wh *Webhooks) receive(platform domain.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wh.AppSecret == "" {
			log.Error().Msg("webhook app secret not configured")
			writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "app secret not configured")
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeProblem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "")
				return
			}
			writeProblem(w, http.StatusBadRequest, "Bad Request", "could not read body")
			return
		}
		if err := meta.VerifySignature(wh.AppSecret, body, r.Header.Get(meta.SignatureHeader)); err != nil {
			log.Warn().Err(err).Str("platform", string(platform)).Str("remote", remoteIP(r)).Msg("webhook signature rejected")
			writeProblem(w, http.StatusForbidden, "Forbidden", "invalid signature")
			return
		}
		payload, err := meta.ParseWebhook(body)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
			return
		}
		if got, ok := meta.PlatformFor(payload.Object); ok && got != platform {
			log.Warn().Str("platform", string(platform)).Str("object", payload.Object).Msg("webhook object does not match endpoint")
			writeProblem(w, http.StatusBadRequest, "Bad Request", "object "+payload.Object+" is not accepted on this endpoint")
			return
		}

		now := time.Now
		if wh.Now != nil {
			now = wh.Now
		}
		res, err := wh.Processor.Process(r.Context(), meta.Normalize(payload, now().UTC()))
		if err != nil {
			log.Error().Err(err).Str("platform", string(platform)).Msg("webhook processing failed")
			writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
			return
		}
		log.Debug().Str("platform", string(platform)).Int("stored", res.Stored).
			Int("duplicates", res.Duplicates).Int("skipped", res.Skipped).Msg("webhook processed")
		writeJSON(w, http.StatusOK, res)
	}
}
