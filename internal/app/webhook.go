package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/adapters/observability"
	"reputation_hub/internal/domain"
)

const (
	dedupeTTL   = 7 * 24 * time.Hour
	usernameTTL = 24 * 60 * 60
)

// Result is what a webhook delivery produced.
type Result struct {
	Stored     int `json:"stored"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

type WebhookService struct {
	repo   domain.Repository
	dedupe domain.Deduper
	events domain.EventPublisher
	cache  domain.Cache
	meta   domain.MetaClient // optional; resolves participant usernames
}

func NewWebhookService(r domain.Repository, d domain.Deduper, ev domain.EventPublisher, c domain.Cache, m domain.MetaClient) *WebhookService {
	return &WebhookService{repo: r, dedupe: d, events: ev, cache: c, meta: m}
}

// Process stores every message and comment in the batch. Duplicates are
// counted, never errors; events for accounts no location has connected are
// skipped. Any other storage error aborts so the delivery is retried.
func (s *WebhookService) Process(ctx context.Context, b domain.WebhookBatch) (Result, error) {
	res := Result{Skipped: b.Ignored}
	conns := map[string]*domain.Connection{}

	for _, ev := range b.Messages {
		conn, err := s.connection(ctx, conns, ev.Platform, ev.AccountID)
		if err != nil {
			return res, err
		}
		if conn == nil {
			res.Skipped++
			observability.ObserveWebhook(string(ev.Platform), "message", "skipped")
			continue
		}
		err = s.storeMessage(ctx, *conn, ev)
		switch {
		case errors.Is(err, domain.ErrDuplicate):
			res.Duplicates++
			observability.ObserveWebhook(string(ev.Platform), "message", "duplicate")
		case err != nil:
			observability.ObserveWebhook(string(ev.Platform), "message", "error")
			return res, fmt.Errorf("store message %s: %w", ev.MID, err)
		default:
			res.Stored++
			observability.ObserveWebhook(string(ev.Platform), "message", "stored")
		}
	}

	for _, ev := range b.Comments {
		conn, err := s.connection(ctx, conns, ev.Platform, ev.AccountID)
		if err != nil {
			return res, err
		}
		if conn == nil {
			res.Skipped++
			observability.ObserveWebhook(string(ev.Platform), "comment", "skipped")
			continue
		}
		err = s.storeComment(ctx, *conn, ev)
		switch {
		case errors.Is(err, domain.ErrDuplicate):
			res.Duplicates++
			observability.ObserveWebhook(string(ev.Platform), "comment", "duplicate")
		case err != nil:
			observability.ObserveWebhook(string(ev.Platform), "comment", "error")
			return res, fmt.Errorf("store comment %s: %w", ev.CommentID, err)
		default:
			res.Stored++
			observability.ObserveWebhook(string(ev.Platform), "comment", "stored")
		}
	}
	return res, nil
}

// connection memoizes lookups for the delivery; nil means unknown account.
func (s *WebhookService) connection(ctx context.Context, memo map[string]*domain.Connection, p domain.Platform, account string) (*domain.Connection, error) {
	k := string(p) + ":" + account
	if c, ok := memo[k]; ok {
		return c, nil
	}
	c, err := s.repo.FindConnectionByAccount(ctx, p, account)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Str("platform", string(p)).Str("account", account).Msg("webhook for unknown account")
		memo[k] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve connection: %w", err)
	}
	memo[k] = &c
	return &c, nil
}

func (s *WebhookService) seen(ctx context.Context, key string) bool {
	if s.dedupe == nil {
		return false
	}
	ok, err := s.dedupe.Seen(ctx, key)
	if err != nil {
		// the database unique key still catches it
		log.Warn().Err(err).Str("key", key).Msg("dedupe lookup failed")
		return false
	}
	return ok
}

func (s *WebhookService) mark(ctx context.Context, key string) {
	if s.dedupe == nil {
		return
	}
	if err := s.dedupe.Mark(ctx, key, dedupeTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("dedupe mark failed")
	}
}

func (s *WebhookService) storeMessage(ctx context.Context, conn domain.Connection, ev domain.MessageEvent) error {
	key := dedupeKeyMessage(ev.Platform, ev.MID)
	if s.seen(ctx, key) {
		return domain.ErrDuplicate
	}

	dir := domain.Inbound
	if ev.Outbound() {
		dir = domain.Outbound
	}
	participant := ev.ParticipantID()
	conv := domain.Conversation{
		LocationID:          conn.LocationID,
		Platform:            ev.Platform,
		ParticipantID:       participant,
		ParticipantUsername: s.username(ctx, conn, participant),
	}
	msg := domain.Message{
		LocationID:  conn.LocationID,
		Platform:    ev.Platform,
		MessageMID:  ev.MID,
		Direction:   dir,
		SenderID:    ev.SenderID,
		RecipientID: ev.RecipientID,
		Text:        ptrStr(ev.Text),
		Attachments: ev.Attachments,
		SentAt:      ev.Timestamp,
		RawJSON:     ev.Raw,
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	stored, err := s.repo.StoreMessage(ctx, conv, msg)
	if errors.Is(err, domain.ErrDuplicate) {
		s.mark(ctx, key)
		return err
	}
	if err != nil {
		return err
	}
	s.mark(ctx, key)

	s.publish(ctx, domain.RealtimeEvent{
		Type:           "message.created",
		LocationID:     conn.LocationID,
		ConversationID: stored.ConversationID,
		MessageID:      stored.ID,
		At:             stored.SentAt,
	})
	invalidate(ctx, s.cache, conn.LocationID, "conversations", "messages", "analytics")
	return nil
}

func (s *WebhookService) storeComment(ctx context.Context, conn domain.Connection, ev domain.CommentEvent) error {
	key := dedupeKeyComment(ev.Platform, ev.CommentID)
	if s.seen(ctx, key) {
		return domain.ErrDuplicate
	}
	id, err := s.repo.InsertComment(ctx, commentFromEvent(conn.LocationID, ev))
	if errors.Is(err, domain.ErrDuplicate) {
		s.mark(ctx, key)
		return err
	}
	if err != nil {
		return err
	}
	s.mark(ctx, key)

	s.publish(ctx, domain.RealtimeEvent{
		Type:       "comment.created",
		LocationID: conn.LocationID,
		CommentID:  id,
		At:         time.Now().UTC(),
	})
	invalidate(ctx, s.cache, conn.LocationID, "comments", "analytics")
	return nil
}

func (s *WebhookService) publish(ctx context.Context, ev domain.RealtimeEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("type", ev.Type).Str("location", ev.LocationID).Msg("publish realtime event failed")
	}
}

// username is best effort: a cached handle, else one Graph lookup.
func (s *WebhookService) username(ctx context.Context, conn domain.Connection, userID string) *string {
	if s.meta == nil || userID == "" {
		return nil
	}
	key := keyUsername(conn.Platform, userID)
	var name string
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &name); ok {
			return ptrStr(name)
		}
	}
	lctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	name, err := s.meta.GetUsername(lctx, conn, userID)
	if err != nil {
		log.Debug().Err(err).Str("user", userID).Msg("username lookup failed")
		return nil
	}
	if s.cache != nil && name != "" {
		_ = s.cache.Set(ctx, key, name, usernameTTL)
	}
	return ptrStr(name)
}
