package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// dialect holds what differs between the two supported databases: placeholder
// style, upsert syntax and how a freshly inserted id is read back.
type dialect struct {
	name string

	upsertConnection   string
	upsertReview       string
	upsertConversation string
	upsertSyncState    string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "postgres", "pgx", "":
		return postgresDialect, nil
	case "mysql":
		return mysqlDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported db driver %q", driver)
}

// rebind rewrites ? placeholders to $1..$n for Postgres. Queries in this
// package never contain a literal question mark.
func (d dialect) rebind(q string) string {
	if d.name != "postgres" {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertID runs an INSERT and returns the generated BIGINT id.
func (d dialect) insertID(ctx context.Context, q queryer, query string, args ...any) (int64, error) {
	if d.name == "postgres" {
		var id int64
		err := q.QueryRowContext(ctx, d.rebind(query)+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// IsUniqueViolation reports whether err is a unique-key violation:
// SQLSTATE 23505 on Postgres, error 1062 on MySQL.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

// isMalformedKey reports whether Postgres refused a bound value for its
// column type (SQLSTATE 22P02), e.g. a location id that is not a UUID.
func isMalformedKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

var postgresDialect = dialect{
	name: "postgres",

	upsertConnection: `
INSERT INTO platform_connections
  (id, location_id, platform, external_account_id, display_name, access_token, refresh_token, token_expiry, status, updated_at)
VALUES
  ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (location_id, platform) DO UPDATE SET
  external_account_id = EXCLUDED.external_account_id,
  display_name        = COALESCE(EXCLUDED.display_name, platform_connections.display_name),
  access_token        = EXCLUDED.access_token,
  refresh_token       = COALESCE(EXCLUDED.refresh_token, platform_connections.refresh_token),
  token_expiry        = EXCLUDED.token_expiry,
  status              = EXCLUDED.status,
  updated_at          = now()
`,

	upsertReview: `
INSERT INTO reviews
  (location_id, platform, external_review_id, author, author_photo_url, rating, body,
   reply_text, reply_updated_at, review_created_at, review_updated_at, raw)
VALUES
  ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (location_id, platform, external_review_id) DO UPDATE SET
  author            = COALESCE(EXCLUDED.author, reviews.author),
  author_photo_url  = COALESCE(EXCLUDED.author_photo_url, reviews.author_photo_url),
  rating            = COALESCE(EXCLUDED.rating, reviews.rating),
  body              = EXCLUDED.body,
  reply_text        = EXCLUDED.reply_text,
  reply_updated_at  = EXCLUDED.reply_updated_at,
  review_updated_at = EXCLUDED.review_updated_at,
  raw               = COALESCE(EXCLUDED.raw, reviews.raw)
`,

	// unread_count: an inbound row carries 1 and accumulates, an outbound row carries 0 and resets.
	upsertConversation: `
INSERT INTO conversations
  (location_id, platform, participant_id, participant_username, last_message_at, last_message_text, unread_count)
VALUES
  ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (location_id, platform, participant_id) DO UPDATE SET
  participant_username = COALESCE(EXCLUDED.participant_username, conversations.participant_username),
  last_message_text    = CASE WHEN EXCLUDED.last_message_at >= conversations.last_message_at
                              THEN EXCLUDED.last_message_text ELSE conversations.last_message_text END,
  last_message_at      = GREATEST(conversations.last_message_at, EXCLUDED.last_message_at),
  unread_count         = CASE WHEN EXCLUDED.unread_count > 0
                              THEN conversations.unread_count + EXCLUDED.unread_count ELSE 0 END
`,

	upsertSyncState: `
INSERT INTO sync_state
  (location_id, source, page_cursor, last_synced_at, last_status, last_error)
VALUES
  ($1, $2, $3, $4, $5, $6)
ON CONFLICT (location_id, source) DO UPDATE SET
  page_cursor    = EXCLUDED.page_cursor,
  last_synced_at = COALESCE(EXCLUDED.last_synced_at, sync_state.last_synced_at),
  last_status    = EXCLUDED.last_status,
  last_error     = EXCLUDED.last_error
`,
}

// MySQL evaluates ON DUPLICATE KEY assignments left to right, so
// last_message_text must be compared before last_message_at is overwritten.
var mysqlDialect = dialect{
	name: "mysql",

	upsertConnection: `
INSERT INTO platform_connections
  (id, location_id, platform, external_account_id, display_name, access_token, refresh_token, token_expiry, status, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP(6))
ON DUPLICATE KEY UPDATE
  external_account_id = VALUES(external_account_id),
  display_name        = COALESCE(VALUES(display_name), display_name),
  access_token        = VALUES(access_token),
  refresh_token       = COALESCE(VALUES(refresh_token), refresh_token),
  token_expiry        = VALUES(token_expiry),
  status              = VALUES(status),
  updated_at          = CURRENT_TIMESTAMP(6)
`,

	upsertReview: `
INSERT INTO reviews
  (location_id, platform, external_review_id, author, author_photo_url, rating, body,
   reply_text, reply_updated_at, review_created_at, review_updated_at, raw)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  author            = COALESCE(VALUES(author), author),
  author_photo_url  = COALESCE(VALUES(author_photo_url), author_photo_url),
  rating            = COALESCE(VALUES(rating), rating),
  body              = VALUES(body),
  reply_text        = VALUES(reply_text),
  reply_updated_at  = VALUES(reply_updated_at),
  review_updated_at = VALUES(review_updated_at),
  raw               = COALESCE(VALUES(raw), raw)
`,

	upsertConversation: `
INSERT INTO conversations
  (location_id, platform, participant_id, participant_username, last_message_at, last_message_text, unread_count)
VALUES
  (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  participant_username = COALESCE(VALUES(participant_username), participant_username),
  last_message_text    = IF(VALUES(last_message_at) >= last_message_at, VALUES(last_message_text), last_message_text),
  last_message_at      = GREATEST(last_message_at, VALUES(last_message_at)),
  unread_count         = IF(VALUES(unread_count) > 0, unread_count + VALUES(unread_count), 0)
`,

	upsertSyncState: `
INSERT INTO sync_state
  (location_id, source, page_cursor, last_synced_at, last_status, last_error)
VALUES
  (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  page_cursor    = VALUES(page_cursor),
  last_synced_at = COALESCE(VALUES(last_synced_at), last_synced_at),
  last_status    = VALUES(last_status),
  last_error     = VALUES(last_error)
`,
}
