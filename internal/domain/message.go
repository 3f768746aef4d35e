package domain

import "time"

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Conversation is a DM thread between a connected account and one participant.
type Conversation struct {
	ID                  int64
	LocationID          string
	Platform            Platform
	ParticipantID       string
	ParticipantUsername *string
	LastMessageAt       time.Time
	LastMessageText     *string
	UnreadCount         int
}

type Message struct {
	ID             int64
	ConversationID int64
	LocationID     string
	Platform       Platform
	MessageMID     string // unique platform message id
	Direction      Direction
	SenderID       string
	RecipientID    string
	Text           *string
	Attachments    []Attachment
	SentAt         time.Time
	RawJSON        []byte
}

type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Comment is a public comment on an Instagram media item or a Facebook post.
type Comment struct {
	ID                int64
	LocationID        string
	Platform          Platform
	ExternalCommentID string
	MediaID           string
	ParentID          *string
	AuthorID          *string
	AuthorUsername    *string
	Text              *string
	ReplyText         *string
	ReplyExternalID   *string
	CreatedAt         time.Time
	RawJSON           []byte
}
