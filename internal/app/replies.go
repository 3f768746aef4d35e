package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/domain"
)

const maxReplyLen = 4096

type ReplyService struct {
	repo   domain.Repository
	google domain.GoogleClient
	meta   domain.MetaClient
	dedupe domain.Deduper
	events domain.EventPublisher
	cache  domain.Cache
}

func NewReplyService(r domain.Repository, g domain.GoogleClient, m domain.MetaClient, d domain.Deduper, ev domain.EventPublisher, c domain.Cache) *ReplyService {
	return &ReplyService{repo: r, google: g, meta: m, dedupe: d, events: ev, cache: c}
}

func cleanReply(text string) (string, error) {
	t := strings.TrimSpace(text)
	if t == "" || len(t) > maxReplyLen {
		return "", fmt.Errorf("reply text must be 1..%d bytes: %w", maxReplyLen, domain.ErrInvalidInput)
	}
	return t, nil
}

func (s *ReplyService) markDraftsSent(ctx context.Context, loc string, t domain.DraftTarget, id int64) {
	if err := s.repo.MarkDraftsSent(ctx, loc, t, id); err != nil {
		log.Warn().Err(err).Str("location", loc).Int64("target", id).Msg("mark drafts sent failed")
	}
}

// ReplyToReview publishes (or replaces) the owner reply on a Google review.
func (s *ReplyService) ReplyToReview(ctx context.Context, loc string, id int64, text string) (domain.Review, error) {
	text, err := cleanReply(text)
	if err != nil {
		return domain.Review{}, err
	}
	rv, err := s.repo.GetReview(ctx, loc, id)
	if err != nil {
		return domain.Review{}, err
	}
	if rv.Platform != domain.PlatformGoogle {
		return domain.Review{}, fmt.Errorf("replies only supported for google reviews: %w", domain.ErrInvalidInput)
	}
	conn, err := activeConnection(ctx, s.repo, loc, domain.PlatformGoogle)
	if err != nil {
		return domain.Review{}, err
	}
	if err := s.google.UpdateReply(ctx, conn, rv.ExternalReviewID, text); err != nil {
		return domain.Review{}, platformErr(ctx, s.repo, conn, err)
	}

	now := time.Now().UTC()
	if err := s.repo.SetReviewReply(ctx, loc, id, &text, &now); err != nil {
		return domain.Review{}, err
	}
	s.markDraftsSent(ctx, loc, domain.DraftForReview, id)
	invalidate(ctx, s.cache, loc, "reviews", "analytics")

	rv.ReplyText, rv.ReplyUpdatedAt = &text, &now
	return rv, nil
}

func (s *ReplyService) DeleteReviewReply(ctx context.Context, loc string, id int64) error {
	rv, err := s.repo.GetReview(ctx, loc, id)
	if err != nil {
		return err
	}
	if !rv.Replied() {
		return nil
	}
	conn, err := activeConnection(ctx, s.repo, loc, domain.PlatformGoogle)
	if err != nil {
		return err
	}
	// already gone upstream counts as deleted
	if err := s.google.DeleteReply(ctx, conn, rv.ExternalReviewID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return platformErr(ctx, s.repo, conn, err)
	}
	if err := s.repo.SetReviewReply(ctx, loc, id, nil, nil); err != nil {
		return err
	}
	invalidate(ctx, s.cache, loc, "reviews", "analytics")
	return nil
}

// SendMessage sends a DM to the conversation's participant and stores it as
// outbound. The echo webhook for the same mid is then recognised as a duplicate.
func (s *ReplyService) SendMessage(ctx context.Context, loc string, convID int64, text string) (domain.Message, error) {
	text, err := cleanReply(text)
	if err != nil {
		return domain.Message{}, err
	}
	conv, err := s.repo.GetConversation(ctx, loc, convID)
	if err != nil {
		return domain.Message{}, err
	}
	conn, err := activeConnection(ctx, s.repo, loc, conv.Platform)
	if err != nil {
		return domain.Message{}, err
	}
	mid, err := s.meta.SendMessage(ctx, conn, conv.ParticipantID, text)
	if err != nil {
		return domain.Message{}, platformErr(ctx, s.repo, conn, err)
	}

	msg := domain.Message{
		LocationID:  loc,
		Platform:    conv.Platform,
		MessageMID:  mid,
		Direction:   domain.Outbound,
		SenderID:    conn.ExternalAccountID,
		RecipientID: conv.ParticipantID,
		Text:        &text,
		SentAt:      time.Now().UTC(),
	}
	stored, err := s.repo.StoreMessage(ctx, domain.Conversation{
		LocationID:    loc,
		Platform:      conv.Platform,
		ParticipantID: conv.ParticipantID,
	}, msg)
	switch {
	case errors.Is(err, domain.ErrDuplicate):
		// the echo webhook won the race
		msg.ConversationID = conv.ID
		stored = msg
	case err != nil:
		return domain.Message{}, err
	}
	if s.dedupe != nil {
		if err := s.dedupe.Mark(ctx, dedupeKeyMessage(conv.Platform, mid), dedupeTTL); err != nil {
			log.Warn().Err(err).Msg("dedupe mark failed")
		}
	}
	s.markDraftsSent(ctx, loc, domain.DraftForConversation, convID)
	if s.events != nil {
		if err := s.events.Publish(ctx, domain.RealtimeEvent{
			Type: "message.created", LocationID: loc, ConversationID: conv.ID, MessageID: stored.ID, At: stored.SentAt,
		}); err != nil {
			log.Warn().Err(err).Msg("publish realtime event failed")
		}
	}
	invalidate(ctx, s.cache, loc, "conversations", "messages", "analytics")
	return stored, nil
}

// ReplyToComment posts a public reply under the comment and records it on the row.
func (s *ReplyService) ReplyToComment(ctx context.Context, loc string, id int64, text string) (domain.Comment, error) {
	text, err := cleanReply(text)
	if err != nil {
		return domain.Comment{}, err
	}
	c, err := s.repo.GetComment(ctx, loc, id)
	if err != nil {
		return domain.Comment{}, err
	}
	conn, err := activeConnection(ctx, s.repo, loc, c.Platform)
	if err != nil {
		return domain.Comment{}, err
	}
	replyID, err := s.meta.ReplyToComment(ctx, conn, c.ExternalCommentID, text)
	if err != nil {
		return domain.Comment{}, platformErr(ctx, s.repo, conn, err)
	}
	if err := s.repo.SetCommentReply(ctx, loc, id, text, replyID); err != nil {
		return domain.Comment{}, err
	}
	s.markDraftsSent(ctx, loc, domain.DraftForComment, id)
	invalidate(ctx, s.cache, loc, "comments")

	c.ReplyText, c.ReplyExternalID = &text, ptrStr(replyID)
	return c, nil
}
