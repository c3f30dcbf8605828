package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/paycore/internal/domain/outbox"
	"github.com/redis/go-redis/v9"
)

// EventStream is where outbox events are relayed for downstream consumers.
const EventStream = "payments:events"

// StreamProducer appends outbox entries to a Redis stream.
type StreamProducer struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewStreamProducer(client redis.Cmdable, stream string) *StreamProducer {
	if stream == "" {
		stream = EventStream
	}
	return &StreamProducer{client: client, stream: stream, maxLen: 100_000}
}

func (p *StreamProducer) Stream() string { return p.stream }

// Publish appends one entry. The outbox id travels with the message so
// consumers can drop the duplicates at-least-once relay produces.
func (p *StreamProducer) Publish(ctx context.Context, entry *outbox.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":       entry.ID.String(),
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID,
			"event_type":     entry.EventType,
			"payload":        string(payload),
			"timestamp":      entry.CreatedAt.Unix(),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", entry.EventType, err)
	}
	return nil
}

// StreamEvent is one message read back from the event stream.
type StreamEvent struct {
	StreamID      string
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       string
	Timestamp     time.Time
}

// Recent returns up to count events, newest first.
func (p *StreamProducer) Recent(ctx context.Context, count int64) ([]StreamEvent, error) {
	msgs, err := p.client.XRevRangeN(ctx, p.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", p.stream, err)
	}

	events := make([]StreamEvent, 0, len(msgs))
	for _, msg := range msgs {
		ev := StreamEvent{StreamID: msg.ID}
		ev.EventID, _ = msg.Values["event_id"].(string)
		ev.AggregateType, _ = msg.Values["aggregate_type"].(string)
		ev.AggregateID, _ = msg.Values["aggregate_id"].(string)
		ev.EventType, _ = msg.Values["event_type"].(string)
		ev.Payload, _ = msg.Values["payload"].(string)
		if ts, ok := msg.Values["timestamp"].(string); ok {
			var sec int64
			if _, err := fmt.Sscan(ts, &sec); err == nil {
				ev.Timestamp = time.Unix(sec, 0).UTC()
			}
		}
		events = append(events, ev)
	}
	return events, nil
}
