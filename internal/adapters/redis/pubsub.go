package redisad

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/domain"
)

func channel(locationID string) string { return "rephub:loc:" + locationID + ":events" }

func (r *Cache) Publish(ctx context.Context, ev domain.RealtimeEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.c.Publish(ctx, channel(ev.LocationID), b).Err()
}

// Subscribe streams events for one location until ctx ends or the returned
// cancel func is called.
func (r *Cache) Subscribe(ctx context.Context, locationID string) (<-chan domain.RealtimeEvent, func(), error) {
	ps := r.c.Subscribe(ctx, channel(locationID))
	// wait for the subscription confirmation so no publish is lost after return
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan domain.RealtimeEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var ev domain.RealtimeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed realtime event")
					continue
				}
				select {
				case out <- ev:
				default:
					// slow consumer; the dashboard refetches on reconnect
				}
			}
		}
	}()

	var closed bool
	cancel := func() {
		if closed {
			return
		}
		closed = true
		close(done)
		_ = ps.Close()
	}
	return out, cancel, nil
}
