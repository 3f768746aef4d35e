package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reputation_hub/internal/domain"
)

const (
	maxCachedBytes  = 1_000_000
	defaultDays     = 30
	maxAnalyticDays = 365
)

type QueryService struct {
	repo     domain.Repository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(r domain.Repository, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{repo: r, cache: c, cacheTTL: ttl}
}

// cached is read-through: a cache hit short-circuits load, a miss stores the
// loaded value unless it is too large to be worth keeping.
func cached[T any](ctx context.Context, s *QueryService, key string, load func() (T, error)) (T, error) {
	var out T
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	if s.cache != nil && s.cacheTTL > 0 {
		// optional size guard
		if b, _ := json.Marshal(v); len(b) < maxCachedBytes {
			_ = s.cache.Set(ctx, key, v, int(s.cacheTTL.Seconds()))
		}
	}
	return v, nil
}

func (s *QueryService) ListLocations(ctx context.Context, userID string) ([]domain.Location, error) {
	return cached(ctx, s, keyLocations(userID), func() ([]domain.Location, error) {
		return s.repo.ListLocationsForUser(ctx, userID)
	})
}

func (s *QueryService) ListReviews(ctx context.Context, loc string, q domain.ReviewsQuery) (domain.ReviewsPage, error) {
	if q.Rating != nil && (*q.Rating < 1 || *q.Rating > 5) {
		return domain.ReviewsPage{}, fmt.Errorf("rating must be 1..5: %w", domain.ErrInvalidInput)
	}
	return cached(ctx, s, keyReviews(loc, q), func() (domain.ReviewsPage, error) {
		p, err := s.repo.ListReviews(ctx, loc, q)
		if err != nil {
			return domain.ReviewsPage{}, err
		}
		// copy slice to avoid aliasing the repo's backing array
		out := domain.ReviewsPage{NextCursor: p.NextCursor}
		out.Items = append([]domain.Review(nil), p.Items...)
		return out, nil
	})
}

func (s *QueryService) ListConversations(ctx context.Context, loc string, pg domain.PageQuery) (domain.ConversationsPage, error) {
	return cached(ctx, s, keyConversations(loc, pg), func() (domain.ConversationsPage, error) {
		return s.repo.ListConversations(ctx, loc, pg)
	})
}

// ListMessages 404s for a conversation of another location before touching the cache.
func (s *QueryService) ListMessages(ctx context.Context, loc string, convID int64, pg domain.PageQuery) (domain.MessagesPage, error) {
	if _, err := s.repo.GetConversation(ctx, loc, convID); err != nil {
		return domain.MessagesPage{}, err
	}
	return cached(ctx, s, keyMessages(loc, convID, pg), func() (domain.MessagesPage, error) {
		return s.repo.ListMessages(ctx, loc, convID, pg)
	})
}

func (s *QueryService) ListComments(ctx context.Context, loc string, pg domain.PageQuery) (domain.CommentsPage, error) {
	return cached(ctx, s, keyComments(loc, pg), func() (domain.CommentsPage, error) {
		return s.repo.ListComments(ctx, loc, pg)
	})
}

// Analytics covers the trailing window of days; 0 means the default 30 and
// anything above a year is clamped.
func (s *QueryService) Analytics(ctx context.Context, loc string, days int) (domain.Analytics, error) {
	switch {
	case days < 0:
		return domain.Analytics{}, fmt.Errorf("days must be positive: %w", domain.ErrInvalidInput)
	case days == 0:
		days = defaultDays
	case days > maxAnalyticDays:
		days = maxAnalyticDays
	}
	return cached(ctx, s, keyAnalytics(loc, days), func() (domain.Analytics, error) {
		since := time.Now().UTC().AddDate(0, 0, -days)
		a, err := s.repo.Analytics(ctx, loc, since)
		if err != nil {
			return domain.Analytics{}, err
		}
		a.Days = days
		return a, nil
	})
}
