package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"reputation_hub/internal/domain"
)

const reviewCols = `id, location_id, platform, external_review_id, author, author_photo_url, rating, body,
  reply_text, reply_updated_at, review_created_at, review_updated_at, raw`

func scanReview(sc interface{ Scan(...any) error }) (domain.Review, error) {
	var rv domain.Review
	var (
		platform            string
		author, photo, body sql.NullString
		reply               sql.NullString
		rating              sql.NullInt64
		replyAt, updatedAt  sql.NullTime
		raw                 []byte
	)
	if err := sc.Scan(&rv.ID, &rv.LocationID, &platform, &rv.ExternalReviewID, &author, &photo, &rating, &body,
		&reply, &replyAt, &rv.CreatedAt, &updatedAt, &raw); err != nil {
		return domain.Review{}, err
	}
	rv.Platform = domain.Platform(platform)
	rv.Author = strPtr(author)
	rv.AuthorPhotoURL = strPtr(photo)
	rv.Rating = intPtr(rating)
	rv.Comment = strPtr(body)
	rv.ReplyText = strPtr(reply)
	rv.ReplyUpdatedAt = timePtr(replyAt)
	rv.CreatedAt = rv.CreatedAt.UTC()
	rv.UpdatedAt = timePtr(updatedAt)
	if len(raw) > 0 {
		rv.RawJSON = append([]byte(nil), raw...)
	}
	return rv, nil
}

// UpsertReviews writes the batch in one transaction; a review already stored
// is refreshed in place.
func (r *Repo) UpsertReviews(ctx context.Context, rs []domain.Review) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, r.d.rebind(r.d.upsertReview))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rv := range rs {
		created := rv.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			rv.LocationID,
			string(rv.Platform),
			rv.ExternalReviewID,
			valStr(rv.Author),
			valStr(rv.AuthorPhotoURL),
			valInt(rv.Rating),
			valStr(rv.Comment),
			valStr(rv.ReplyText),
			valTime(rv.ReplyUpdatedAt),
			created.UTC(),
			valTime(rv.UpdatedAt),
			valJSON(rv.RawJSON),
		); err != nil {
			return fmt.Errorf("upsert review %s: %w", rv.ExternalReviewID, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) SetReviewReply(ctx context.Context, locationID string, id int64, text *string, at *time.Time) error {
	res, err := r.exec(ctx, `UPDATE reviews SET reply_text = ?, reply_updated_at = ? WHERE location_id = ? AND id = ?`,
		valStr(text), valTime(at), locationID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) GetReview(ctx context.Context, locationID string, id int64) (domain.Review, error) {
	rv, err := scanReview(r.queryRow(ctx, `SELECT `+reviewCols+` FROM reviews WHERE location_id = ? AND id = ?`,
		locationID, id))
	if err != nil {
		return domain.Review{}, notFound(err)
	}
	return rv, nil
}

func (r *Repo) ListReviews(ctx context.Context, locationID string, q domain.ReviewsQuery) (domain.ReviewsPage, error) {
	limit := clampLimit(q.Limit)
	where := []string{"location_id = ?"}
	args := []any{locationID}

	if q.Rating != nil {
		where = append(where, "rating = ?")
		args = append(args, *q.Rating)
	}
	if q.Unreplied {
		where = append(where, "(reply_text IS NULL OR reply_text = '')")
	}
	ts, lastID, ok, err := decodeCursor(q.Cursor)
	if err != nil {
		return domain.ReviewsPage{}, err
	}
	if ok {
		where = append(where, "(review_created_at < ? OR (review_created_at = ? AND id < ?))")
		args = append(args, ts, ts, lastID)
	}
	args = append(args, limit+1)

	rows, err := r.query(ctx, `SELECT `+reviewCols+`
FROM reviews
WHERE `+strings.Join(where, " AND ")+`
ORDER BY review_created_at DESC, id DESC
LIMIT ?`, args...)
	if err != nil {
		return domain.ReviewsPage{}, err
	}
	defer rows.Close()

	var out []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return domain.ReviewsPage{}, err
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return domain.ReviewsPage{}, err
	}

	page := domain.ReviewsPage{Items: out}
	if len(out) > limit {
		page.Items = out[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}
