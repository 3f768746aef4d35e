package domain

import "time"

type Review struct {
	ID               int64
	LocationID       string
	Platform         Platform
	ExternalReviewID string // GBP review resource name
	Author           *string
	AuthorPhotoURL   *string
	Rating           *int // 1..5
	Comment          *string
	ReplyText        *string
	ReplyUpdatedAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        *time.Time
	RawJSON          []byte
}

func (r Review) Replied() bool { return r.ReplyText != nil && *r.ReplyText != "" }

type DraftTarget string

const (
	DraftForReview       DraftTarget = "review"
	DraftForConversation DraftTarget = "conversation"
	DraftForComment      DraftTarget = "comment"
)

type DraftStatus string

const (
	DraftPending   DraftStatus = "pending"
	DraftSent      DraftStatus = "sent"
	DraftDiscarded DraftStatus = "discarded"
)

// ReplyDraft is an AI-generated reply waiting for a human to approve it.
type ReplyDraft struct {
	ID         string
	LocationID string
	TargetType DraftTarget
	TargetID   int64
	Body       string
	Model      string
	Status     DraftStatus
	CreatedAt  time.Time
}

type Analytics struct {
	Days               int          `json:"days"`
	ReviewCount        int          `json:"review_count"`
	AverageRating      *float64     `json:"average_rating"`
	RatingDistribution map[int]int  `json:"rating_distribution"`
	RepliedCount       int          `json:"replied_count"`
	ResponseRate       float64      `json:"response_rate"`
	InboundMessages    int          `json:"inbound_messages"`
	OutboundMessages   int          `json:"outbound_messages"`
	Conversations      int          `json:"conversations"`
	CommentCount       int          `json:"comment_count"`
	DailyReviews       []DailyCount `json:"daily_reviews"`
}

type DailyCount struct {
	Day   string `json:"day"` // YYYY-MM-DD
	Count int    `json:"count"`
}
