package app

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/domain"
)

/********** alias registries **********/

var googleReviewAliases = map[string][]string{
	"name":       {"name", "reviewId"},
	"author":     {"reviewer.displayName", "reviewer.name"},
	"photo":      {"reviewer.profilePhotoUrl", "reviewer.profilePhotoURL"},
	"comment":    {"comment", "text"},
	"reply":      {"reviewReply.comment"},
	"reply_time": {"reviewReply.updateTime"},
	"created":    {"createTime", "createdAt"},
	"updated":    {"updateTime", "updatedAt"},
}

// Instagram and Facebook name the same comment fields differently.
var commentAliases = map[string][]string{
	"id":       {"id"},
	"text":     {"text", "message"},
	"author":   {"from.id"},
	"username": {"username", "from.username", "from.name"},
	"created":  {"timestamp", "created_time"},
	"parent":   {"parent_id", "parent.id"},
}

var starRatings = map[string]int{"ONE": 1, "TWO": 2, "THREE": 3, "FOUR": 4, "FIVE": 5}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func lookupStr(m map[string]any, path string) string {
	if v := lookupAny(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// firstNonEmptyAlias: first non-empty string for a named alias set.
func firstNonEmptyAlias(m map[string]any, aliases map[string][]string, key string) *string {
	for _, p := range aliases[key] {
		if s := lookupStr(m, p); s != "" {
			return &s
		}
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func ptrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseTimeFlexible accepts RFC 3339 (Google) and the Graph API's
// 2006-01-02T15:04:05+0000 form.
func parseTimeFlexible(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// ratingFlexible: "FOUR", "4", 4 or 4.0 → 4; anything outside 1..5 is nil.
func ratingFlexible(v any) *int {
	var n int
	switch t := v.(type) {
	case string:
		if r, ok := starRatings[strings.ToUpper(strings.TrimSpace(t))]; ok {
			n = r
		} else if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			n = i
		}
	case float64:
		n = int(t)
	case int:
		n = t
	}
	if n < 1 || n > 5 {
		return nil
	}
	return &n
}

func rawJSON(v any, where string) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("context", where).Msg("marshal raw payload failed")
		return nil
	}
	return b
}

/********** google reviews **********/

// mapGoogleReviews drops entries without a resource name; the name is both
// the dedupe key and the handle for reply calls.
func mapGoogleReviews(locationID string, in []map[string]any) []domain.Review {
	out := make([]domain.Review, 0, len(in))
	for _, r := range in {
		name := firstNonEmptyAlias(r, googleReviewAliases, "name")
		if name == nil {
			continue
		}
		rv := domain.Review{
			LocationID:       locationID,
			Platform:         domain.PlatformGoogle,
			ExternalReviewID: *name,
			Author:           firstNonEmptyAlias(r, googleReviewAliases, "author"),
			AuthorPhotoURL:   firstNonEmptyAlias(r, googleReviewAliases, "photo"),
			Rating:           ratingFlexible(lookupAny(r, "starRating")),
			Comment:          firstNonEmptyAlias(r, googleReviewAliases, "comment"),
			ReplyText:        firstNonEmptyAlias(r, googleReviewAliases, "reply"),
			ReplyUpdatedAt:   parseTimeFlexible(deref(firstNonEmptyAlias(r, googleReviewAliases, "reply_time"))),
			UpdatedAt:        parseTimeFlexible(deref(firstNonEmptyAlias(r, googleReviewAliases, "updated"))),
			RawJSON:          rawJSON(r, "mapGoogleReviews"),
		}
		if rv.Rating == nil {
			rv.Rating = ratingFlexible(lookupAny(r, "rating"))
		}
		if t := parseTimeFlexible(deref(firstNonEmptyAlias(r, googleReviewAliases, "created"))); t != nil {
			rv.CreatedAt = *t
		} else if rv.UpdatedAt != nil {
			rv.CreatedAt = *rv.UpdatedAt
		}
		out = append(out, rv)
	}
	return out
}

/********** meta comments **********/

// mapComments flattens top-level comments and their nested replies
// (instagram returns replies under "replies.data").
func mapComments(conn domain.Connection, mediaID string, in []map[string]any) []domain.Comment {
	out := make([]domain.Comment, 0, len(in))
	for _, c := range in {
		if cm, ok := mapComment(conn, mediaID, c, nil); ok {
			out = append(out, cm)
			if replies, ok := lookupAny(c, "replies.data").([]any); ok {
				for _, it := range replies {
					if rm, ok := it.(map[string]any); ok {
						if r, ok := mapComment(conn, mediaID, rm, &cm.ExternalCommentID); ok {
							out = append(out, r)
						}
					}
				}
			}
		}
	}
	return out
}

func mapComment(conn domain.Connection, mediaID string, c map[string]any, parent *string) (domain.Comment, bool) {
	id := firstNonEmptyAlias(c, commentAliases, "id")
	if id == nil {
		return domain.Comment{}, false
	}
	cm := domain.Comment{
		LocationID:        conn.LocationID,
		Platform:          conn.Platform,
		ExternalCommentID: *id,
		MediaID:           mediaID,
		ParentID:          parent,
		AuthorID:          firstNonEmptyAlias(c, commentAliases, "author"),
		AuthorUsername:    firstNonEmptyAlias(c, commentAliases, "username"),
		Text:              firstNonEmptyAlias(c, commentAliases, "text"),
		RawJSON:           rawJSON(c, "mapComment"),
	}
	// the account's own replies are stored on the parent, not as rows
	if cm.AuthorID != nil && *cm.AuthorID == conn.ExternalAccountID {
		return domain.Comment{}, false
	}
	if cm.ParentID == nil {
		cm.ParentID = firstNonEmptyAlias(c, commentAliases, "parent")
	}
	if t := parseTimeFlexible(deref(firstNonEmptyAlias(c, commentAliases, "created"))); t != nil {
		cm.CreatedAt = *t
	} else {
		cm.CreatedAt = time.Now().UTC()
	}
	return cm, true
}

/********** webhook events **********/

func commentFromEvent(loc string, ev domain.CommentEvent) domain.Comment {
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return domain.Comment{
		LocationID:        loc,
		Platform:          ev.Platform,
		ExternalCommentID: ev.CommentID,
		MediaID:           ev.MediaID,
		ParentID:          ptrStr(ev.ParentID),
		AuthorID:          ptrStr(ev.AuthorID),
		AuthorUsername:    ptrStr(ev.AuthorUsername),
		Text:              ptrStr(ev.Text),
		CreatedAt:         created,
		RawJSON:           ev.Raw,
	}
}
