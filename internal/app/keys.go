package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/domain"
)

// Cache keys. Every per-location read key starts with "<kind>:<location>:" so
// writers can drop a whole family with DelPrefix.

func keyLocations(userID string) string { return "locations:" + userID }

func keyReviews(loc string, q domain.ReviewsQuery) string {
	rating := "any"
	if q.Rating != nil {
		rating = strconv.Itoa(*q.Rating)
	}
	return fmt.Sprintf("reviews:%s:%d:%s:%s:%t", loc, q.Limit, cursorKey(q.Cursor), rating, q.Unreplied)
}

func keyConversations(loc string, pg domain.PageQuery) string {
	return fmt.Sprintf("conversations:%s:%d:%s", loc, pg.Limit, cursorKey(pg.Cursor))
}

func keyMessages(loc string, conv int64, pg domain.PageQuery) string {
	return fmt.Sprintf("messages:%s:%d:%d:%s", loc, conv, pg.Limit, cursorKey(pg.Cursor))
}

func keyComments(loc string, pg domain.PageQuery) string {
	return fmt.Sprintf("comments:%s:%d:%s", loc, pg.Limit, cursorKey(pg.Cursor))
}

func keyAnalytics(loc string, days int) string {
	return fmt.Sprintf("analytics:%s:%d", loc, days)
}

func cursorKey(c *string) string {
	if c == nil || *c == "" {
		return "-"
	}
	return *c
}

func keyUsername(p domain.Platform, id string) string { return "username:" + string(p) + ":" + id }

func dedupeKeyMessage(p domain.Platform, mid string) string { return "msg:" + string(p) + ":" + mid }

func dedupeKeyComment(p domain.Platform, id string) string { return "comment:" + string(p) + ":" + id }

// invalidate drops every cached read of the given kinds for one location.
func invalidate(ctx context.Context, c domain.Cache, loc string, kinds ...string) {
	if c == nil {
		return
	}
	for _, k := range kinds {
		if err := c.DelPrefix(ctx, k+":"+loc+":"); err != nil {
			log.Warn().Err(err).Str("kind", k).Str("location", loc).Msg("cache invalidation failed")
		}
	}
}
