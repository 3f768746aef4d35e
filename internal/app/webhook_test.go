package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reputation_hub/internal/app"
	"reputation_hub/internal/domain"
)

func webhookFixture() (*fakeRepo, *fakeDedupe, *fakeEvents, *fakeCache, *app.WebhookService) {
	repo := newFakeRepo()
	repo.addLocation("loc-1", "Cafe Uno", "u1")
	repo.addConnection(domain.Connection{LocationID: "loc-1", Platform: domain.PlatformInstagram, ExternalAccountID: "ig-acct"})
	d, ev, c := newFakeDedupe(), &fakeEvents{}, newFakeCache()
	meta := &fakeMeta{usernames: map[string]string{"user-9": "jane"}}
	return repo, d, ev, c, app.NewWebhookService(repo, d, ev, c, meta)
}

func inbound(mid string) domain.MessageEvent {
	return domain.MessageEvent{
		Platform: domain.PlatformInstagram, AccountID: "ig-acct",
		SenderID: "user-9", RecipientID: "ig-acct", MID: mid, Text: "hi there",
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestProcess_StoresInboundMessage(t *testing.T) {
	repo, _, ev, cache, svc := webhookFixture()
	_ = cache.Set(context.Background(), "conversations:loc-1:50:-", "stale", 60)

	res, err := svc.Process(context.Background(), domain.WebhookBatch{Messages: []domain.MessageEvent{inbound("m1")}})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Stored != 1 || res.Duplicates != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(repo.messages) != 1 || repo.messages[0].Direction != domain.Inbound {
		t.Fatalf("unexpected messages: %+v", repo.messages)
	}
	if c := repo.convs[0]; c.ParticipantID != "user-9" || deref(c.ParticipantUsername) != "jane" || c.UnreadCount != 1 {
		t.Fatalf("unexpected conversation: %+v", c)
	}
	if got := ev.types(); len(got) != 1 || got[0] != "message.created" {
		t.Fatalf("events: %v", got)
	}
	if ok, _ := cache.Get(context.Background(), "conversations:loc-1:50:-", new(string)); ok {
		t.Fatalf("conversation cache not invalidated")
	}
}

func TestProcess_DuplicateDeliveryIsIdempotent(t *testing.T) {
	repo, _, ev, _, svc := webhookFixture()
	batch := domain.WebhookBatch{Messages: []domain.MessageEvent{inbound("m1")}}

	if _, err := svc.Process(context.Background(), batch); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := svc.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.Stored != 0 || res.Duplicates != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(repo.messages) != 1 || repo.convs[0].UnreadCount != 1 {
		t.Fatalf("duplicate changed state: %d messages, unread %d", len(repo.messages), repo.convs[0].UnreadCount)
	}
	if len(ev.types()) != 1 {
		t.Fatalf("duplicate published an event")
	}
}

func TestProcess_DatabaseCatchesDuplicateWhenDedupeMisses(t *testing.T) {
	repo := newFakeRepo()
	repo.addLocation("loc-1", "Cafe", "u1")
	repo.addConnection(domain.Connection{LocationID: "loc-1", Platform: domain.PlatformInstagram, ExternalAccountID: "ig-acct"})
	svc := app.NewWebhookService(repo, nil, nil, nil, nil)

	batch := domain.WebhookBatch{Messages: []domain.MessageEvent{inbound("m1"), inbound("m1")}}
	res, err := svc.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Stored != 1 || res.Duplicates != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProcess_EchoIsOutboundAndResetsUnread(t *testing.T) {
	repo, _, _, _, svc := webhookFixture()
	echo := domain.MessageEvent{
		Platform: domain.PlatformInstagram, AccountID: "ig-acct",
		SenderID: "ig-acct", RecipientID: "user-9", MID: "m2", Text: "thanks", IsEcho: true,
		Timestamp: time.Unix(1700000100, 0).UTC(),
	}
	if _, err := svc.Process(context.Background(), domain.WebhookBatch{Messages: []domain.MessageEvent{inbound("m1"), echo}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(repo.convs) != 1 {
		t.Fatalf("echo opened a second conversation: %+v", repo.convs)
	}
	if repo.messages[1].Direction != domain.Outbound || repo.convs[0].UnreadCount != 0 {
		t.Fatalf("echo not outbound: %+v / %+v", repo.messages[1], repo.convs[0])
	}
}

func TestProcess_UnknownAccountSkipped(t *testing.T) {
	repo, _, _, _, svc := webhookFixture()
	ev := inbound("m1")
	ev.AccountID = "someone-else"
	res, err := svc.Process(context.Background(), domain.WebhookBatch{Messages: []domain.MessageEvent{ev}, Ignored: 2})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Skipped != 3 || len(repo.messages) != 0 {
		t.Fatalf("unexpected: %+v, %d stored", res, len(repo.messages))
	}
}

func TestProcess_CommentsStoredOnce(t *testing.T) {
	repo, _, ev, _, svc := webhookFixture()
	c := domain.CommentEvent{
		Platform: domain.PlatformInstagram, AccountID: "ig-acct", CommentID: "c1", MediaID: "media-1",
		AuthorID: "user-9", AuthorUsername: "jane", Text: "love it",
	}
	batch := domain.WebhookBatch{Comments: []domain.CommentEvent{c, c}}
	res, err := svc.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Stored != 1 || res.Duplicates != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := repo.comments[0]; got.LocationID != "loc-1" || deref(got.Text) != "love it" || got.MediaID != "media-1" {
		t.Fatalf("unexpected comment: %+v", got)
	}
	if got := ev.types(); len(got) != 1 || got[0] != "comment.created" {
		t.Fatalf("events: %v", got)
	}
}

func TestProcess_StorageErrorAborts(t *testing.T) {
	repo, _, _, _, svc := webhookFixture()
	boom := errors.New("db down")
	repo.failStore = boom
	_, err := svc.Process(context.Background(), domain.WebhookBatch{Messages: []domain.MessageEvent{inbound("m1")}})
	if !errors.Is(err, boom) {
		t.Fatalf("want storage error, got %v", err)
	}
}
