package domain

import "time"

// MessageEvent is one DM taken from a webhook delivery, independent of the
// payload shape it arrived in.
type MessageEvent struct {
	Platform    Platform
	AccountID   string // the connected account the webhook entry belongs to
	SenderID    string
	RecipientID string
	MID         string
	Text        string
	Attachments []Attachment
	Timestamp   time.Time
	IsEcho      bool
	Raw         []byte
}

// Outbound reports whether the connected account sent the message.
func (e MessageEvent) Outbound() bool {
	return e.IsEcho || (e.AccountID != "" && e.SenderID == e.AccountID)
}

// ParticipantID is the other party of the conversation.
func (e MessageEvent) ParticipantID() string {
	if e.Outbound() {
		return e.RecipientID
	}
	return e.SenderID
}

type CommentEvent struct {
	Platform       Platform
	AccountID      string
	CommentID      string
	MediaID        string
	ParentID       string
	AuthorID       string
	AuthorUsername string
	Text           string
	CreatedAt      time.Time
	Raw            []byte
}

// WebhookBatch is everything usable in one delivery. Ignored counts items
// that carry nothing to store (read receipts, reactions, unknown fields).
type WebhookBatch struct {
	Messages []MessageEvent
	Comments []CommentEvent
	Ignored  int
}
