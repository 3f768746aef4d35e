package sqldb

import (
	"context"
	"database/sql"
	"time"

	"reputation_hub/internal/domain"
)

func (r *Repo) Analytics(ctx context.Context, locationID string, since time.Time) (domain.Analytics, error) {
	since = since.UTC()
	out := domain.Analytics{RatingDistribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}

	var avg sql.NullFloat64
	var replied sql.NullInt64
	if err := r.queryRow(ctx, `
SELECT COUNT(*),
       AVG(rating),
       SUM(CASE WHEN reply_text IS NOT NULL AND reply_text <> '' THEN 1 ELSE 0 END)
FROM reviews
WHERE location_id = ? AND review_created_at >= ?`, locationID, since).
		Scan(&out.ReviewCount, &avg, &replied); err != nil {
		return domain.Analytics{}, err
	}
	if avg.Valid {
		a := avg.Float64
		out.AverageRating = &a
	}
	out.RepliedCount = int(replied.Int64)
	if out.ReviewCount > 0 {
		out.ResponseRate = float64(out.RepliedCount) / float64(out.ReviewCount)
	}

	rows, err := r.query(ctx, `
SELECT rating, COUNT(*)
FROM reviews
WHERE location_id = ? AND review_created_at >= ? AND rating IS NOT NULL
GROUP BY rating`, locationID, since)
	if err != nil {
		return domain.Analytics{}, err
	}
	for rows.Next() {
		var rating, n int
		if err := rows.Scan(&rating, &n); err != nil {
			rows.Close()
			return domain.Analytics{}, err
		}
		out.RatingDistribution[rating] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Analytics{}, err
	}

	rows, err = r.query(ctx, `
SELECT CAST(review_created_at AS DATE) AS day, COUNT(*)
FROM reviews
WHERE location_id = ? AND review_created_at >= ?
GROUP BY CAST(review_created_at AS DATE)
ORDER BY day`, locationID, since)
	if err != nil {
		return domain.Analytics{}, err
	}
	for rows.Next() {
		var day time.Time
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			rows.Close()
			return domain.Analytics{}, err
		}
		out.DailyReviews = append(out.DailyReviews, domain.DailyCount{Day: day.Format("2006-01-02"), Count: n})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Analytics{}, err
	}

	var in, outb sql.NullInt64
	if err := r.queryRow(ctx, `
SELECT SUM(CASE WHEN direction = 'inbound' THEN 1 ELSE 0 END),
       SUM(CASE WHEN direction = 'outbound' THEN 1 ELSE 0 END),
       COUNT(DISTINCT conversation_id)
FROM messages
WHERE location_id = ? AND sent_at >= ?`, locationID, since).
		Scan(&in, &outb, &out.Conversations); err != nil {
		return domain.Analytics{}, err
	}
	out.InboundMessages = int(in.Int64)
	out.OutboundMessages = int(outb.Int64)

	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM comments WHERE location_id = ? AND comment_created_at >= ?`,
		locationID, since).Scan(&out.CommentCount); err != nil {
		return domain.Analytics{}, err
	}

	out.Days = int(time.Since(since).Hours()/24 + 0.5)
	return out, nil
}
