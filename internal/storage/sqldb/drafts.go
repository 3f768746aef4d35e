package sqldb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"reputation_hub/internal/domain"
)

func (r *Repo) InsertDraft(ctx context.Context, d domain.ReplyDraft) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.Status == "" {
		d.Status = domain.DraftPending
	}
	_, err := r.exec(ctx, `INSERT INTO reply_drafts
  (id, location_id, target_type, target_id, body, model, status, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.LocationID, string(d.TargetType), d.TargetID, d.Body, d.Model, string(d.Status), d.CreatedAt.UTC())
	return err
}

// MarkDraftsSent flags every pending draft for the target as sent; a reply
// written by hand simply matches nothing.
func (r *Repo) MarkDraftsSent(ctx context.Context, locationID string, t domain.DraftTarget, targetID int64) error {
	_, err := r.exec(ctx, `UPDATE reply_drafts SET status = ?
WHERE location_id = ? AND target_type = ? AND target_id = ? AND status = ?`,
		string(domain.DraftSent), locationID, string(t), targetID, string(domain.DraftPending))
	return err
}
