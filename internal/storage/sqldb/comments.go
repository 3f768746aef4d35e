package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"reputation_hub/internal/domain"
)

const commentCols = `id, location_id, platform, external_comment_id, media_id, parent_id, author_id,
  author_username, body, reply_text, reply_external_id, comment_created_at, raw`

func scanComment(sc interface{ Scan(...any) error }) (domain.Comment, error) {
	var c domain.Comment
	var platform string
	var parent, authorID, username, body, reply, replyID sql.NullString
	var raw []byte
	if err := sc.Scan(&c.ID, &c.LocationID, &platform, &c.ExternalCommentID, &c.MediaID, &parent, &authorID,
		&username, &body, &reply, &replyID, &c.CreatedAt, &raw); err != nil {
		return domain.Comment{}, err
	}
	c.Platform = domain.Platform(platform)
	c.ParentID = strPtr(parent)
	c.AuthorID = strPtr(authorID)
	c.AuthorUsername = strPtr(username)
	c.Text = strPtr(body)
	c.ReplyText = strPtr(reply)
	c.ReplyExternalID = strPtr(replyID)
	c.CreatedAt = c.CreatedAt.UTC()
	if len(raw) > 0 {
		c.RawJSON = append([]byte(nil), raw...)
	}
	return c, nil
}

func (r *Repo) InsertComment(ctx context.Context, c domain.Comment) (int64, error) {
	id, err := r.d.insertID(ctx, r.db, `INSERT INTO comments
  (location_id, platform, external_comment_id, media_id, parent_id, author_id, author_username, body,
   comment_created_at, raw)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.LocationID,
		string(c.Platform),
		c.ExternalCommentID,
		c.MediaID,
		valStr(c.ParentID),
		valStr(c.AuthorID),
		valStr(c.AuthorUsername),
		valStr(c.Text),
		c.CreatedAt.UTC(),
		valJSON(c.RawJSON),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, domain.ErrDuplicate
		}
		return 0, fmt.Errorf("insert comment: %w", err)
	}
	return id, nil
}

func (r *Repo) SetCommentReply(ctx context.Context, locationID string, id int64, text, externalID string) error {
	res, err := r.exec(ctx, `UPDATE comments SET reply_text = ?, reply_external_id = ? WHERE location_id = ? AND id = ?`,
		text, externalID, locationID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) GetComment(ctx context.Context, locationID string, id int64) (domain.Comment, error) {
	c, err := scanComment(r.queryRow(ctx, `SELECT `+commentCols+` FROM comments WHERE location_id = ? AND id = ?`,
		locationID, id))
	if err != nil {
		return domain.Comment{}, notFound(err)
	}
	return c, nil
}

func (r *Repo) ListComments(ctx context.Context, locationID string, pg domain.PageQuery) (domain.CommentsPage, error) {
	limit := clampLimit(pg.Limit)
	q := `SELECT ` + commentCols + ` FROM comments WHERE location_id = ?`
	args := []any{locationID}
	ts, lastID, ok, err := decodeCursor(pg.Cursor)
	if err != nil {
		return domain.CommentsPage{}, err
	}
	if ok {
		q += ` AND (comment_created_at < ? OR (comment_created_at = ? AND id < ?))`
		args = append(args, ts, ts, lastID)
	}
	q += ` ORDER BY comment_created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return domain.CommentsPage{}, err
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return domain.CommentsPage{}, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return domain.CommentsPage{}, err
	}
	page := domain.CommentsPage{Items: out}
	if len(out) > limit {
		page.Items = out[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}
