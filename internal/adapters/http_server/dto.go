package httpserver

import (
	"time"

	"reputation_hub/internal/domain"
)

// Response shapes for the dashboard. Connection tokens never leave the server.

type pageDTO[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor"`
}

func toPage[S, T any](items []S, next *string, conv func(S) T) pageDTO[T] {
	out := pageDTO[T]{Items: make([]T, 0, len(items)), NextCursor: next}
	for _, it := range items {
		out.Items = append(out.Items, conv(it))
	}
	return out
}

type locationDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	GBPLocation *string   `json:"gbp_location,omitempty"`
	Timezone    *string   `json:"timezone,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toLocation(l domain.Location) locationDTO {
	return locationDTO{ID: l.ID, Name: l.Name, GBPLocation: l.GBPLocation, Timezone: l.Timezone, CreatedAt: l.CreatedAt}
}

type reviewDTO struct {
	ID             int64      `json:"id"`
	Platform       string     `json:"platform"`
	ExternalID     string     `json:"external_id"`
	Author         *string    `json:"author"`
	AuthorPhotoURL *string    `json:"author_photo_url,omitempty"`
	Rating         *int       `json:"rating"`
	Comment        *string    `json:"comment"`
	ReplyText      *string    `json:"reply_text"`
	ReplyUpdatedAt *time.Time `json:"reply_updated_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

func toReview(r domain.Review) reviewDTO {
	return reviewDTO{
		ID: r.ID, Platform: string(r.Platform), ExternalID: r.ExternalReviewID,
		Author: r.Author, AuthorPhotoURL: r.AuthorPhotoURL, Rating: r.Rating, Comment: r.Comment,
		ReplyText: r.ReplyText, ReplyUpdatedAt: r.ReplyUpdatedAt, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type conversationDTO struct {
	ID                  int64     `json:"id"`
	Platform            string    `json:"platform"`
	ParticipantID       string    `json:"participant_id"`
	ParticipantUsername *string   `json:"participant_username"`
	LastMessageAt       time.Time `json:"last_message_at"`
	LastMessageText     *string   `json:"last_message_text"`
	UnreadCount         int       `json:"unread_count"`
}

func toConversation(c domain.Conversation) conversationDTO {
	return conversationDTO{
		ID: c.ID, Platform: string(c.Platform), ParticipantID: c.ParticipantID, ParticipantUsername: c.ParticipantUsername,
		LastMessageAt: c.LastMessageAt, LastMessageText: c.LastMessageText, UnreadCount: c.UnreadCount,
	}
}

type messageDTO struct {
	ID             int64               `json:"id"`
	ConversationID int64               `json:"conversation_id"`
	MID            string              `json:"mid"`
	Direction      string              `json:"direction"`
	SenderID       string              `json:"sender_id"`
	Text           *string             `json:"text"`
	Attachments    []domain.Attachment `json:"attachments,omitempty"`
	SentAt         time.Time           `json:"sent_at"`
}

func toMessage(m domain.Message) messageDTO {
	return messageDTO{
		ID: m.ID, ConversationID: m.ConversationID, MID: m.MessageMID, Direction: string(m.Direction),
		SenderID: m.SenderID, Text: m.Text, Attachments: m.Attachments, SentAt: m.SentAt,
	}
}

type commentDTO struct {
	ID             int64     `json:"id"`
	Platform       string    `json:"platform"`
	ExternalID     string    `json:"external_id"`
	MediaID        string    `json:"media_id"`
	ParentID       *string   `json:"parent_id,omitempty"`
	AuthorUsername *string   `json:"author_username"`
	Text           *string   `json:"text"`
	ReplyText      *string   `json:"reply_text"`
	CreatedAt      time.Time `json:"created_at"`
}

func toComment(c domain.Comment) commentDTO {
	return commentDTO{
		ID: c.ID, Platform: string(c.Platform), ExternalID: c.ExternalCommentID, MediaID: c.MediaID,
		ParentID: c.ParentID, AuthorUsername: c.AuthorUsername, Text: c.Text, ReplyText: c.ReplyText, CreatedAt: c.CreatedAt,
	}
}

type connectionDTO struct {
	Platform          string     `json:"platform"`
	ExternalAccountID string     `json:"external_account_id"`
	DisplayName       *string    `json:"display_name"`
	Status            string     `json:"status"`
	TokenExpiry       *time.Time `json:"token_expiry,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toConnection(c domain.Connection) connectionDTO {
	return connectionDTO{
		Platform: string(c.Platform), ExternalAccountID: c.ExternalAccountID, DisplayName: c.DisplayName,
		Status: string(c.Status), TokenExpiry: c.TokenExpiry, UpdatedAt: c.UpdatedAt,
	}
}

type syncStateDTO struct {
	Source       string     `json:"source"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	LastStatus   int        `json:"last_status"`
	LastError    *string    `json:"last_error,omitempty"`
}

func toSyncState(s domain.SyncState) syncStateDTO {
	return syncStateDTO{Source: s.Source, LastSyncedAt: s.LastSyncedAt, LastStatus: s.LastStatus, LastError: s.LastError}
}

type draftDTO struct {
	ID         string    `json:"id"`
	TargetType string    `json:"target_type"`
	TargetID   int64     `json:"target_id"`
	Body       string    `json:"body"`
	Model      string    `json:"model"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func toDraft(d domain.ReplyDraft) draftDTO {
	return draftDTO{
		ID: d.ID, TargetType: string(d.TargetType), TargetID: d.TargetID, Body: d.Body,
		Model: d.Model, Status: string(d.Status), CreatedAt: d.CreatedAt,
	}
}

// ---- requests ----

type replyRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

type listParams struct {
	Limit  int    `validate:"omitempty,min=1,max=100"`
	Cursor string `validate:"omitempty,max=512"`
}

type reviewParams struct {
	listParams
	Rating    int `validate:"omitempty,min=1,max=5"`
	Unreplied bool
}

type analyticsParams struct {
	Days int `validate:"omitempty,min=1"`
}
