package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DeadLetterStream collects events whose handlers failed, one entry per
// failed handler invocation.
const DeadLetterStream = "events:dead_letter"

// StreamName returns the durable log stream for an aggregate type, e.g.
// "Invoice" -> "events:invoice". Events of different aggregates live in
// separate streams so one chatty aggregate cannot evict another's history.
func StreamName(aggregateType string) string {
	return "events:" + strings.ToLower(aggregateType)
}

// StreamLog is the durable, capped event log on Redis streams. Each append
// trims the stream to roughly maxLen entries (approximate trimming, XADD with
// MaxLen ~), so the log is an operational record of recent activity rather
// than a replayable source of truth.
type StreamLog struct {
	rdb    *redis.Client
	maxLen int64
}

func NewStreamLog(rdb *redis.Client, maxLen int64) *StreamLog {
	return &StreamLog{rdb: rdb, maxLen: maxLen}
}

// Append writes the event to its aggregate's stream as a single JSON field.
func (l *StreamLog) Append(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	err = l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(evt.AggregateType),
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]interface{}{"event": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("append event %s to stream: %w", evt.ID, err)
	}
	return nil
}

// AppendDeadLetter records a handler failure for later inspection. The full
// event is embedded so an operator can replay it by hand.
func (l *StreamLog) AppendDeadLetter(ctx context.Context, evt Event, handlerName string, handlerErr error) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal dead-letter event %s: %w", evt.ID, err)
	}

	err = l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_type": evt.Type,
			"handler":    handlerName,
			"error":      handlerErr.Error(),
			"event":      payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append dead letter for event %s: %w", evt.ID, err)
	}
	return nil
}

// Depth returns the number of entries in a stream.
func (l *StreamLog) Depth(ctx context.Context, stream string) (int64, error) {
	n, err := l.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("stream length %s: %w", stream, err)
	}
	return n, nil
}

// Recent returns up to count newest entries of a stream, newest first.
func (l *StreamLog) Recent(ctx context.Context, stream string, count int64) ([]redis.XMessage, error) {
	msgs, err := l.rdb.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", stream, err)
	}
	return msgs, nil
}

// RecentEvents decodes the newest count events of an aggregate's stream.
// Entries that fail to decode are skipped.
func (l *StreamLog) RecentEvents(ctx context.Context, aggregateType string, count int64) ([]Event, error) {
	msgs, err := l.Recent(ctx, StreamName(aggregateType), count)
	if err != nil {
		return nil, err
	}

	evts := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			continue
		}
		evts = append(evts, evt)
	}
	return evts, nil
}
