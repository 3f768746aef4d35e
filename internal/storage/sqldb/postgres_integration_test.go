//go:build integration || !unit

package sqldb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"reputation_hub/internal/domain"
	"reputation_hub/internal/storage/sqldb"
	"reputation_hub/internal/storage/sqldb/sqldbtest"
)

func pstr(s string) *string { return &s }
func pint(i int) *int       { return &i }

func TestRepo_Postgres_MessagesAndReviews(t *testing.T) {
	db := sqldbtest.StartPostgres(t)
	repo, err := sqldb.New(db, "postgres")
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	ctx := context.Background()
	user := uuid.NewString()
	loc := sqldbtest.SeedLocation(t, db, "Corner Cafe", user)

	ok, err := repo.IsMember(ctx, loc, user)
	if err != nil || !ok {
		t.Fatalf("IsMember: %v %v", ok, err)
	}

	if err := repo.UpsertConnection(ctx, domain.Connection{
		LocationID:        loc,
		Platform:          domain.PlatformInstagram,
		ExternalAccountID: "ig-1",
		AccessToken:       "tok",
	}); err != nil {
		t.Fatalf("UpsertConnection: %v", err)
	}
	conn, err := repo.FindConnectionByAccount(ctx, domain.PlatformInstagram, "ig-1")
	if err != nil || conn.LocationID != loc {
		t.Fatalf("FindConnectionByAccount: %+v %v", conn, err)
	}

	// Inbound message, then the same mid again.
	at := time.Now().UTC().Truncate(time.Microsecond)
	c := domain.Conversation{LocationID: loc, Platform: domain.PlatformInstagram, ParticipantID: "user-9"}
	m := domain.Message{
		LocationID: loc, Platform: domain.PlatformInstagram, MessageMID: "m_1",
		Direction: domain.Inbound, SenderID: "user-9", RecipientID: "ig-1",
		Text: pstr("hi"), SentAt: at, RawJSON: []byte(`{"mid":"m_1"}`),
	}
	first, err := repo.StoreMessage(ctx, c, m)
	if err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	if _, err := repo.StoreMessage(ctx, c, m); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("second StoreMessage: expected ErrDuplicate, got %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE message_mid = 'm_1'`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("expected exactly one row, got %d (%v)", n, err)
	}
	conv, err := repo.GetConversation(ctx, loc, first.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("duplicate must not bump unread_count, got %d", conv.UnreadCount)
	}

	// An outbound reply resets unread.
	m2 := m
	m2.MessageMID, m2.Direction, m2.SenderID, m2.RecipientID = "m_2", domain.Outbound, "ig-1", "user-9"
	m2.SentAt = at.Add(time.Second)
	if _, err := repo.StoreMessage(ctx, c, m2); err != nil {
		t.Fatalf("StoreMessage outbound: %v", err)
	}
	conv, _ = repo.GetConversation(ctx, loc, first.ConversationID)
	if conv.UnreadCount != 0 {
		t.Fatalf("outbound should reset unread_count, got %d", conv.UnreadCount)
	}
	msgs, err := repo.ListMessages(ctx, loc, conv.ID, domain.PageQuery{Limit: 10})
	if err != nil || len(msgs.Items) != 2 || msgs.Items[0].MessageMID != "m_2" {
		t.Fatalf("ListMessages: %+v %v", msgs.Items, err)
	}

	// Reviews upsert twice; the second run refreshes the reply.
	rv := domain.Review{
		LocationID: loc, Platform: domain.PlatformGoogle, ExternalReviewID: "accounts/1/locations/2/reviews/3",
		Author: pstr("Ana"), Rating: pint(4), Comment: pstr("nice"), CreatedAt: at, RawJSON: []byte(`{}`),
	}
	if err := repo.UpsertReviews(ctx, []domain.Review{rv}); err != nil {
		t.Fatalf("UpsertReviews: %v", err)
	}
	rv.ReplyText = pstr("thanks")
	if err := repo.UpsertReviews(ctx, []domain.Review{rv}); err != nil {
		t.Fatalf("UpsertReviews again: %v", err)
	}
	page, err := repo.ListReviews(ctx, loc, domain.ReviewsQuery{PageQuery: domain.PageQuery{Limit: 10}})
	if err != nil || len(page.Items) != 1 || !page.Items[0].Replied() {
		t.Fatalf("ListReviews: %+v %v", page.Items, err)
	}

	a, err := repo.Analytics(ctx, loc, at.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if a.ReviewCount != 1 || a.RepliedCount != 1 || a.InboundMessages != 1 || a.OutboundMessages != 1 {
		t.Fatalf("unexpected analytics: %+v", a)
	}
}
