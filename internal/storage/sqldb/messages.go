package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"reputation_hub/internal/domain"
)

const conversationCols = `id, location_id, platform, participant_id, participant_username,
  last_message_at, last_message_text, unread_count`

const messageCols = `id, conversation_id, location_id, platform, message_mid, direction, sender_id,
  recipient_id, body, attachments, sent_at, raw`

func scanConversation(sc interface{ Scan(...any) error }) (domain.Conversation, error) {
	var c domain.Conversation
	var platform string
	var username, last sql.NullString
	if err := sc.Scan(&c.ID, &c.LocationID, &platform, &c.ParticipantID, &username,
		&c.LastMessageAt, &last, &c.UnreadCount); err != nil {
		return domain.Conversation{}, err
	}
	c.Platform = domain.Platform(platform)
	c.ParticipantUsername = strPtr(username)
	c.LastMessageText = strPtr(last)
	c.LastMessageAt = c.LastMessageAt.UTC()
	return c, nil
}

func scanMessage(sc interface{ Scan(...any) error }) (domain.Message, error) {
	var m domain.Message
	var platform, direction string
	var body sql.NullString
	var attachments, raw []byte
	if err := sc.Scan(&m.ID, &m.ConversationID, &m.LocationID, &platform, &m.MessageMID, &direction,
		&m.SenderID, &m.RecipientID, &body, &attachments, &m.SentAt, &raw); err != nil {
		return domain.Message{}, err
	}
	m.Platform = domain.Platform(platform)
	m.Direction = domain.Direction(direction)
	m.Text = strPtr(body)
	m.SentAt = m.SentAt.UTC()
	if len(attachments) > 0 {
		_ = json.Unmarshal(attachments, &m.Attachments)
	}
	if len(raw) > 0 {
		m.RawJSON = append([]byte(nil), raw...)
	}
	return m, nil
}

func (r *Repo) StoreMessage(ctx context.Context, c domain.Conversation, m domain.Message) (domain.Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	unread := 0
	if m.Direction == domain.Inbound {
		unread = 1
	}
	if _, err := tx.ExecContext(ctx, r.d.rebind(r.d.upsertConversation),
		c.LocationID,
		string(c.Platform),
		c.ParticipantID,
		valStr(c.ParticipantUsername),
		m.SentAt.UTC(),
		valStr(m.Text),
		unread,
	); err != nil {
		return domain.Message{}, fmt.Errorf("upsert conversation: %w", err)
	}

	var convID int64
	if err := tx.QueryRowContext(ctx, r.d.rebind(
		`SELECT id FROM conversations WHERE location_id = ? AND platform = ? AND participant_id = ?`),
		c.LocationID, string(c.Platform), c.ParticipantID).Scan(&convID); err != nil {
		return domain.Message{}, fmt.Errorf("load conversation id: %w", err)
	}

	var attachments []byte
	if len(m.Attachments) > 0 {
		attachments, _ = json.Marshal(m.Attachments)
	}
	id, err := r.d.insertID(ctx, tx, `INSERT INTO messages
  (conversation_id, location_id, platform, message_mid, direction, sender_id, recipient_id, body, attachments, sent_at, raw)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		convID,
		m.LocationID,
		string(m.Platform),
		m.MessageMID,
		string(m.Direction),
		m.SenderID,
		m.RecipientID,
		valStr(m.Text),
		valJSON(attachments),
		m.SentAt.UTC(),
		valJSON(m.RawJSON),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.Message{}, domain.ErrDuplicate
		}
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	m.ID = id
	m.ConversationID = convID
	return m, nil
}

func (r *Repo) GetConversation(ctx context.Context, locationID string, id int64) (domain.Conversation, error) {
	c, err := scanConversation(r.queryRow(ctx, `SELECT `+conversationCols+`
FROM conversations WHERE location_id = ? AND id = ?`, locationID, id))
	if err != nil {
		return domain.Conversation{}, notFound(err)
	}
	return c, nil
}

func (r *Repo) ListConversations(ctx context.Context, locationID string, pg domain.PageQuery) (domain.ConversationsPage, error) {
	limit := clampLimit(pg.Limit)
	q := `SELECT ` + conversationCols + ` FROM conversations WHERE location_id = ?`
	args := []any{locationID}
	ts, lastID, ok, err := decodeCursor(pg.Cursor)
	if err != nil {
		return domain.ConversationsPage{}, err
	}
	if ok {
		q += ` AND (last_message_at < ? OR (last_message_at = ? AND id < ?))`
		args = append(args, ts, ts, lastID)
	}
	q += ` ORDER BY last_message_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return domain.ConversationsPage{}, err
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return domain.ConversationsPage{}, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return domain.ConversationsPage{}, err
	}
	page := domain.ConversationsPage{Items: out}
	if len(out) > limit {
		page.Items = out[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.LastMessageAt, last.ID)
	}
	return page, nil
}

// ListMessages pages backwards from the newest message.
func (r *Repo) ListMessages(ctx context.Context, locationID string, conversationID int64, pg domain.PageQuery) (domain.MessagesPage, error) {
	limit := clampLimit(pg.Limit)
	q := `SELECT ` + messageCols + ` FROM messages WHERE location_id = ? AND conversation_id = ?`
	args := []any{locationID, conversationID}
	ts, lastID, ok, err := decodeCursor(pg.Cursor)
	if err != nil {
		return domain.MessagesPage{}, err
	}
	if ok {
		q += ` AND (sent_at < ? OR (sent_at = ? AND id < ?))`
		args = append(args, ts, ts, lastID)
	}
	q += ` ORDER BY sent_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	out, err := r.listMessages(ctx, q, args...)
	if err != nil {
		return domain.MessagesPage{}, err
	}
	page := domain.MessagesPage{Items: out}
	if len(out) > limit {
		page.Items = out[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.SentAt, last.ID)
	}
	return page, nil
}

// LastInbound returns up to n most recent inbound messages, oldest first.
func (r *Repo) LastInbound(ctx context.Context, locationID string, conversationID int64, n int) ([]domain.Message, error) {
	out, err := r.listMessages(ctx, `SELECT `+messageCols+`
FROM messages
WHERE location_id = ? AND conversation_id = ? AND direction = ?
ORDER BY sent_at DESC, id DESC
LIMIT ?`, locationID, conversationID, string(domain.Inbound), n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *Repo) listMessages(ctx context.Context, q string, args ...any) ([]domain.Message, error) {
	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
