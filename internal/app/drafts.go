package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reputation_hub/internal/adapters/observability"
	"reputation_hub/internal/domain"
)

const draftContextMessages = 6

type DraftService struct {
	repo domain.Repository
	gen  domain.DraftGenerator
}

// NewDraftService accepts a nil generator; every call then fails with ErrUnavailable.
func NewDraftService(r domain.Repository, g domain.DraftGenerator) *DraftService {
	return &DraftService{repo: r, gen: g}
}

func (s *DraftService) ForReview(ctx context.Context, loc string, id int64) (domain.ReplyDraft, error) {
	rv, err := s.repo.GetReview(ctx, loc, id)
	if err != nil {
		return domain.ReplyDraft{}, err
	}
	return s.generate(ctx, loc, domain.DraftForReview, id, domain.DraftRequest{
		AuthorName: deref(rv.Author),
		Rating:     rv.Rating,
		Text:       deref(rv.Comment),
	})
}

// ForConversation drafts an answer to the latest inbound message, with the
// few before it as context.
func (s *DraftService) ForConversation(ctx context.Context, loc string, id int64) (domain.ReplyDraft, error) {
	conv, err := s.repo.GetConversation(ctx, loc, id)
	if err != nil {
		return domain.ReplyDraft{}, err
	}
	msgs, err := s.repo.LastInbound(ctx, loc, id, draftContextMessages)
	if err != nil {
		return domain.ReplyDraft{}, err
	}
	if len(msgs) == 0 {
		return domain.ReplyDraft{}, fmt.Errorf("conversation has no inbound messages: %w", domain.ErrInvalidInput)
	}
	var history []string
	for _, m := range msgs[:len(msgs)-1] {
		if t := deref(m.Text); t != "" {
			history = append(history, t)
		}
	}
	return s.generate(ctx, loc, domain.DraftForConversation, id, domain.DraftRequest{
		AuthorName: deref(conv.ParticipantUsername),
		Text:       deref(msgs[len(msgs)-1].Text),
		Context:    history,
	})
}

func (s *DraftService) ForComment(ctx context.Context, loc string, id int64) (domain.ReplyDraft, error) {
	c, err := s.repo.GetComment(ctx, loc, id)
	if err != nil {
		return domain.ReplyDraft{}, err
	}
	return s.generate(ctx, loc, domain.DraftForComment, id, domain.DraftRequest{
		AuthorName: deref(c.AuthorUsername),
		Text:       deref(c.Text),
	})
}

func (s *DraftService) generate(ctx context.Context, loc string, target domain.DraftTarget, id int64, req domain.DraftRequest) (domain.ReplyDraft, error) {
	if s.gen == nil {
		return domain.ReplyDraft{}, fmt.Errorf("draft generator: %w", domain.ErrUnavailable)
	}
	l, err := s.repo.GetLocation(ctx, loc)
	if err != nil {
		return domain.ReplyDraft{}, err
	}
	req.Target = target
	req.BusinessName = l.Name

	body, model, err := s.gen.Generate(ctx, req)
	if err != nil {
		observability.ObserveDraft(string(target), "error")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.ReplyDraft{}, err
		}
		log.Error().Err(err).Str("location", loc).Str("target", string(target)).Msg("draft generation failed")
		return domain.ReplyDraft{}, fmt.Errorf("generate draft: %w", domain.ErrUnavailable)
	}

	d := domain.ReplyDraft{
		ID:         uuid.NewString(),
		LocationID: loc,
		TargetType: target,
		TargetID:   id,
		Body:       body,
		Model:      model,
		Status:     domain.DraftPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.InsertDraft(ctx, d); err != nil {
		return domain.ReplyDraft{}, err
	}
	observability.ObserveDraft(string(target), "ok")
	return d, nil
}
