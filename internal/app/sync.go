package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/adapters/observability"
	"reputation_hub/internal/domain"
)

const (
	SourceGoogleReviews     = "google_reviews"
	SourceInstagramComments = "instagram_comments"
	SourceFacebookComments  = "facebook_comments"

	maxReviewPages = 20
)

type SyncService struct {
	repo       domain.Repository
	google     domain.GoogleClient
	meta       domain.MetaClient
	cache      domain.Cache
	events     domain.EventPublisher
	mediaLimit int
}

func NewSyncService(r domain.Repository, g domain.GoogleClient, m domain.MetaClient, c domain.Cache, ev domain.EventPublisher, mediaLimit int) *SyncService {
	if mediaLimit <= 0 {
		mediaLimit = 10
	}
	return &SyncService{repo: r, google: g, meta: m, cache: c, events: ev, mediaLimit: mediaLimit}
}

// SyncLocation pulls whatever the connection's platform offers. Missing
// upstream resources and rejected tokens are recorded in sync_state and end
// the run without an error; anything else bubbles up.
func (s *SyncService) SyncLocation(ctx context.Context, conn domain.Connection) error {
	switch conn.Platform {
	case domain.PlatformGoogle:
		return s.syncGoogle(ctx, conn)
	case domain.PlatformInstagram, domain.PlatformFacebook:
		return s.syncComments(ctx, conn)
	}
	return fmt.Errorf("sync: unsupported platform %q", conn.Platform)
}

// SyncAll runs every active connection of one location in turn.
func (s *SyncService) SyncAll(ctx context.Context, loc string) error {
	conns, err := s.repo.ListConnections(ctx, loc)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range conns {
		if c.Status != domain.ConnectionActive {
			continue
		}
		if err := s.SyncLocation(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Platform, err))
		}
	}
	return errors.Join(errs...)
}

func sourceFor(p domain.Platform) string {
	switch p {
	case domain.PlatformGoogle:
		return SourceGoogleReviews
	case domain.PlatformInstagram:
		return SourceInstagramComments
	default:
		return SourceFacebookComments
	}
}

func (s *SyncService) syncGoogle(ctx context.Context, conn domain.Connection) error {
	source := SourceGoogleReviews
	if s.google == nil {
		return fmt.Errorf("google client: %w", domain.ErrUnavailable)
	}

	// resume a backfill that hit the page cap last time
	pageToken := ""
	if prev, ok := s.lastState(ctx, conn.LocationID, source); ok && prev.Cursor != nil {
		pageToken = *prev.Cursor
	}

	total := 0
	var resume *string
	for page := 0; ; page++ {
		p, err := s.google.ListReviews(ctx, conn, pageToken)
		if err != nil {
			return s.miss(ctx, conn, source, err, "reviews", "analytics")
		}
		if rs := mapGoogleReviews(conn.LocationID, p.Reviews); len(rs) > 0 {
			if err := s.repo.UpsertReviews(ctx, rs); err != nil {
				// do not swallow this; surface so we know inserts failed
				return fmt.Errorf("upsert reviews for %s: %w", conn.LocationID, err)
			}
			total += len(rs)
		}
		if p.NextPageToken == "" {
			break
		}
		if page+1 >= maxReviewPages {
			resume = ptrStr(p.NextPageToken)
			break
		}
		pageToken = p.NextPageToken
	}

	s.saveState(ctx, conn.LocationID, source, resume, http.StatusOK, nil)
	invalidate(ctx, s.cache, conn.LocationID, "reviews", "analytics")
	if total > 0 {
		s.publish(ctx, domain.RealtimeEvent{Type: "review.synced", LocationID: conn.LocationID, At: time.Now().UTC()})
	}
	observability.ObserveSync(source, "ok")
	log.Info().Str("location", conn.LocationID).Int("reviews", total).Msg("google reviews synced")
	return nil
}

func (s *SyncService) syncComments(ctx context.Context, conn domain.Connection) error {
	source := sourceFor(conn.Platform)
	if s.meta == nil {
		return fmt.Errorf("meta client: %w", domain.ErrUnavailable)
	}

	media, err := s.meta.ListMedia(ctx, conn, s.mediaLimit)
	if err != nil {
		return s.miss(ctx, conn, source, err, "comments", "analytics")
	}

	stored := 0
	for _, m := range media {
		mediaID := lookupStr(m, "id")
		if mediaID == "" {
			continue
		}
		raw, err := s.meta.ListComments(ctx, conn, mediaID)
		if errors.Is(err, domain.ErrNotFound) {
			continue // media deleted between the two calls
		}
		if err != nil {
			return s.miss(ctx, conn, source, err, "comments", "analytics")
		}
		for _, c := range mapComments(conn, mediaID, raw) {
			id, err := s.repo.InsertComment(ctx, c)
			if errors.Is(err, domain.ErrDuplicate) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert comment %s: %w", c.ExternalCommentID, err)
			}
			stored++
			s.publish(ctx, domain.RealtimeEvent{Type: "comment.created", LocationID: conn.LocationID, CommentID: id, At: c.CreatedAt})
		}
	}

	s.saveState(ctx, conn.LocationID, source, nil, http.StatusOK, nil)
	invalidate(ctx, s.cache, conn.LocationID, "comments", "analytics")
	observability.ObserveSync(source, "ok")
	log.Info().Str("location", conn.LocationID).Str("platform", string(conn.Platform)).Int("comments", stored).Msg("comments synced")
	return nil
}

// miss records a failed run. 404 and 401/403 stop gracefully (the latter
// also flags the connection); anything else is returned.
func (s *SyncService) miss(ctx context.Context, conn domain.Connection, source string, err error, kinds ...string) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.saveState(ctx, conn.LocationID, source, nil, http.StatusNotFound, ptrStr("not found"))
		invalidate(ctx, s.cache, conn.LocationID, kinds...)
		observability.ObserveSync(source, "miss")
		return nil

	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrForbidden):
		status := http.StatusForbidden
		if errors.Is(err, domain.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		if serr := s.repo.SetConnectionStatus(ctx, conn.ID, domain.ConnectionError); serr != nil {
			log.Warn().Err(serr).Str("connection", conn.ID).Msg("flag connection failed")
		}
		s.saveState(ctx, conn.LocationID, source, nil, status, ptrStr("token rejected"))
		invalidate(ctx, s.cache, conn.LocationID, kinds...)
		observability.ObserveSync(source, "miss")
		log.Warn().Err(err).Str("location", conn.LocationID).Str("source", source).Msg("connection token rejected")
		return nil
	}

	s.saveState(ctx, conn.LocationID, source, nil, http.StatusBadGateway, ptrStr(err.Error()))
	observability.ObserveSync(source, "error")
	return err
}

func (s *SyncService) lastState(ctx context.Context, loc, source string) (domain.SyncState, bool) {
	states, err := s.repo.ListSyncStates(ctx, loc)
	if err != nil {
		log.Warn().Err(err).Str("location", loc).Msg("load sync state failed")
		return domain.SyncState{}, false
	}
	for _, st := range states {
		if st.Source == source {
			return st, true
		}
	}
	return domain.SyncState{}, false
}

// saveState only advances last_synced_at on success.
func (s *SyncService) saveState(ctx context.Context, loc, source string, cursor *string, status int, errText *string) {
	st := domain.SyncState{LocationID: loc, Source: source, Cursor: cursor, LastStatus: status, LastError: errText}
	if status == http.StatusOK {
		now := time.Now().UTC()
		st.LastSyncedAt = &now
	}
	if err := s.repo.SaveSyncState(ctx, st); err != nil {
		log.Warn().Err(err).Str("location", loc).Str("source", source).Msg("save sync state failed")
	}
}

func (s *SyncService) publish(ctx context.Context, ev domain.RealtimeEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("type", ev.Type).Msg("publish realtime event failed")
	}
}
