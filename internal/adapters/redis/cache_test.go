package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	redisad "reputation_hub/internal/adapters/redis"
	"reputation_hub/internal/domain"
)

func newCache(t *testing.T) (*redisad.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redisad.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_SetGetDel(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	type row struct{ Name string }
	if err := c.Set(ctx, "k", row{Name: "Ana"}, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got row
	ok, err := c.Get(ctx, "k", &got)
	if err != nil || !ok || got.Name != "Ana" {
		t.Fatalf("get: ok=%v err=%v got=%+v", ok, err, got)
	}
	if err := c.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	ok, _ = c.Get(ctx, "k", &got)
	if ok {
		t.Fatalf("expected miss after del")
	}
}

func TestCache_TTL(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "short", 1, 10)
	mr.FastForward(11 * time.Second)
	var v int
	if ok, _ := c.Get(ctx, "short", &v); ok {
		t.Fatalf("expected key to expire")
	}
}

func TestCache_DelPrefix(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	for _, k := range []string{"reviews:loc1:50", "reviews:loc1:100", "reviews:loc2:50"} {
		_ = c.Set(ctx, k, 1, 60)
	}
	if err := c.DelPrefix(ctx, "reviews:loc1:"); err != nil {
		t.Fatalf("del prefix: %v", err)
	}
	var v int
	if ok, _ := c.Get(ctx, "reviews:loc1:50", &v); ok {
		t.Fatalf("loc1 key survived")
	}
	if ok, _ := c.Get(ctx, "reviews:loc2:50", &v); !ok {
		t.Fatalf("loc2 key was removed")
	}
}

func TestDedupe_SeenMark(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	seen, err := c.Seen(ctx, "mid:abc")
	if err != nil || seen {
		t.Fatalf("fresh key: seen=%v err=%v", seen, err)
	}
	if err := c.Mark(ctx, "mid:abc", time.Hour); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if seen, _ := c.Seen(ctx, "mid:abc"); !seen {
		t.Fatalf("expected key to be seen")
	}
	mr.FastForward(2 * time.Hour)
	if seen, _ := c.Seen(ctx, "mid:abc"); seen {
		t.Fatalf("expected mark to expire")
	}
}

func TestPubSub_RoundTrip(t *testing.T) {
	c, _ := newCache(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ch, stop, err := c.Subscribe(ctx, "loc-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	want := domain.RealtimeEvent{Type: "message.created", LocationID: "loc-1", MessageID: 7, At: time.Now().UTC()}
	if err := c.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// other locations must not leak in
	_ = c.Publish(ctx, domain.RealtimeEvent{Type: "message.created", LocationID: "loc-2"})

	select {
	case got := <-ch:
		if got.MessageID != 7 || got.LocationID != "loc-1" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}
}
