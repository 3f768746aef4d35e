package domain

import (
	"context"
	"time"
)

type LocationStore interface {
	ListLocationsForUser(ctx context.Context, userID string) ([]Location, error)
	GetLocation(ctx context.Context, id string) (Location, error)
	IsMember(ctx context.Context, locationID, userID string) (bool, error)
}

type ConnectionStore interface {
	UpsertConnection(ctx context.Context, c Connection) error
	UpdateConnectionToken(ctx context.Context, id string, tok OAuthToken) error
	SetConnectionStatus(ctx context.Context, id string, status ConnectionStatus) error
	DeleteConnection(ctx context.Context, locationID string, p Platform) error
	GetConnection(ctx context.Context, locationID string, p Platform) (Connection, error)
	FindConnectionByAccount(ctx context.Context, p Platform, accountID string) (Connection, error)
	ListConnections(ctx context.Context, locationID string) ([]Connection, error)
	ListActiveConnections(ctx context.Context) ([]Connection, error)
}

type ReviewStore interface {
	UpsertReviews(ctx context.Context, rs []Review) error
	SetReviewReply(ctx context.Context, locationID string, id int64, text *string, at *time.Time) error
	GetReview(ctx context.Context, locationID string, id int64) (Review, error)
	ListReviews(ctx context.Context, locationID string, q ReviewsQuery) (ReviewsPage, error)
}

type MessageStore interface {
	// StoreMessage upserts the conversation and inserts the message atomically.
	// A message whose MessageMID already exists yields ErrDuplicate and leaves
	// the conversation untouched.
	StoreMessage(ctx context.Context, c Conversation, m Message) (Message, error)
	GetConversation(ctx context.Context, locationID string, id int64) (Conversation, error)
	ListConversations(ctx context.Context, locationID string, pg PageQuery) (ConversationsPage, error)
	ListMessages(ctx context.Context, locationID string, conversationID int64, pg PageQuery) (MessagesPage, error)
	LastInbound(ctx context.Context, locationID string, conversationID int64, n int) ([]Message, error)
}

type CommentStore interface {
	// InsertComment yields ErrDuplicate when the platform comment id is already stored.
	InsertComment(ctx context.Context, c Comment) (int64, error)
	SetCommentReply(ctx context.Context, locationID string, id int64, text, externalID string) error
	GetComment(ctx context.Context, locationID string, id int64) (Comment, error)
	ListComments(ctx context.Context, locationID string, pg PageQuery) (CommentsPage, error)
}

type DraftStore interface {
	InsertDraft(ctx context.Context, d ReplyDraft) error
	MarkDraftsSent(ctx context.Context, locationID string, t DraftTarget, targetID int64) error
}

type SyncStore interface {
	SaveSyncState(ctx context.Context, s SyncState) error
	ListSyncStates(ctx context.Context, locationID string) ([]SyncState, error)
}

type AnalyticsStore interface {
	Analytics(ctx context.Context, locationID string, since time.Time) (Analytics, error)
}

type Repository interface {
	LocationStore
	ConnectionStore
	ReviewStore
	MessageStore
	CommentStore
	DraftStore
	SyncStore
	AnalyticsStore
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
	DelPrefix(ctx context.Context, prefix string) error
}

// Deduper remembers platform ids that were already persisted.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev RealtimeEvent) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, locationID string) (<-chan RealtimeEvent, func(), error)
}

// External platforms. Payloads stay as decoded JSON maps; app/mappers.go
// turns them into rows.

type GoogleClient interface {
	ListReviews(ctx context.Context, conn Connection, pageToken string) (GoogleReviewsPage, error)
	UpdateReply(ctx context.Context, conn Connection, reviewName, text string) error
	DeleteReply(ctx context.Context, conn Connection, reviewName string) error
}

type GoogleReviewsPage struct {
	Reviews       []map[string]any
	NextPageToken string
}

type GoogleAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (OAuthToken, error)
	ListLocations(ctx context.Context, tok OAuthToken) ([]GBPLocation, error)
}

type GBPLocation struct {
	Name  string // accounts/{a}/locations/{l}
	Title string
}

type MetaClient interface {
	SendMessage(ctx context.Context, conn Connection, recipientID, text string) (string, error)
	ReplyToComment(ctx context.Context, conn Connection, commentID, text string) (string, error)
	ListMedia(ctx context.Context, conn Connection, limit int) ([]map[string]any, error)
	ListComments(ctx context.Context, conn Connection, mediaID string) ([]map[string]any, error)
	GetUsername(ctx context.Context, conn Connection, userID string) (string, error)
}

type MetaAuth interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (OAuthToken, error)
	ExchangeLongLived(ctx context.Context, shortLived string) (OAuthToken, error)
	ListPages(ctx context.Context, userToken string) ([]MetaPage, error)
}

type MetaPage struct {
	ID                string
	Name              string
	AccessToken       string
	InstagramID       string
	InstagramUsername string
}

type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

type DraftRequest struct {
	Target       DraftTarget
	BusinessName string
	AuthorName   string
	Rating       *int
	Text         string
	Context      []string // earlier inbound messages, oldest first
}

type DraftGenerator interface {
	Generate(ctx context.Context, req DraftRequest) (body, model string, err error)
}

// Principal is the authenticated dashboard user.
type Principal struct {
	UserID string
	Email  string
	Role   string
}

type TokenVerifier interface {
	Verify(token string) (Principal, error)
}

// Read models & queries

type PageQuery struct {
	Limit  int
	Cursor *string
}

type ReviewsQuery struct {
	PageQuery
	Rating    *int
	Unreplied bool
}

type ReviewsPage struct {
	Items      []Review
	NextCursor *string
}

type ConversationsPage struct {
	Items      []Conversation
	NextCursor *string
}

type MessagesPage struct {
	Items      []Message
	NextCursor *string
}

type CommentsPage struct {
	Items      []Comment
	NextCursor *string
}

type RealtimeEvent struct {
	Type           string    `json:"type"` // message.created|comment.created|review.synced
	LocationID     string    `json:"location_id"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	MessageID      int64     `json:"message_id,omitempty"`
	CommentID      int64     `json:"comment_id,omitempty"`
	At             time.Time `json:"at"`
}
