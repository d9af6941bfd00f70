package events

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLog(t *testing.T, maxLen int64) *StreamLog {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rc.Close() })

	return NewStreamLog(rc, maxLen)
}

func TestStreamName(t *testing.T) {
	if got := StreamName("Invoice"); got != "events:invoice" {
		t.Errorf("expected events:invoice, got %s", got)
	}
	if got := StreamName("Encounter"); got != "events:encounter" {
		t.Errorf("expected events:encounter, got %s", got)
	}
}

func TestStreamLog_AppendAndDepth(t *testing.T) {
	log := newTestLog(t, 1000)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		evt := New("invoice.generated", "Invoice", "inv-1", nil)
		if err := log.Append(ctx, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	depth, err := log.Depth(ctx, StreamName("Invoice"))
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 3 {
		t.Errorf("expected depth 3, got %d", depth)
	}
}

func TestStreamLog_SeparateStreamsPerAggregate(t *testing.T) {
	log := newTestLog(t, 1000)
	ctx := context.Background()

	log.Append(ctx, New("invoice.generated", "Invoice", "inv-1", nil))
	log.Append(ctx, New("encounter.created", "Encounter", "enc-1", nil))

	invDepth, _ := log.Depth(ctx, StreamName("Invoice"))
	encDepth, _ := log.Depth(ctx, StreamName("Encounter"))
	if invDepth != 1 || encDepth != 1 {
		t.Errorf("expected one event per stream, got invoice=%d encounter=%d", invDepth, encDepth)
	}
}

func TestStreamLog_RecentEventsNewestFirst(t *testing.T) {
	log := newTestLog(t, 1000)
	ctx := context.Background()

	first := New("invoice.generated", "Invoice", "inv-1", nil)
	second := New("invoice.generated", "Invoice", "inv-2", nil)
	log.Append(ctx, first)
	log.Append(ctx, second)

	evts, err := log.RecentEvents(ctx, "Invoice", 10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].AggregateID != "inv-2" {
		t.Errorf("expected newest event first, got %s", evts[0].AggregateID)
	}
	if evts[1].AggregateID != "inv-1" {
		t.Errorf("expected oldest event last, got %s", evts[1].AggregateID)
	}
}

func TestStreamLog_RecentEventsHonorsLimit(t *testing.T) {
	log := newTestLog(t, 1000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		log.Append(ctx, New("payment.received", "Payment", "pay", nil))
	}

	evts, err := log.RecentEvents(ctx, "Payment", 2)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(evts) != 2 {
		t.Errorf("expected 2 events, got %d", len(evts))
	}
}

func TestStreamLog_DeadLetterFields(t *testing.T) {
	log := newTestLog(t, 1000)
	ctx := context.Background()

	evt := New("invoice.generated", "Invoice", "inv-1", map[string]interface{}{"grand_total": 10.0})
	if err := log.AppendDeadLetter(ctx, evt, "ar_aging", errors.New("redis write refused")); err != nil {
		t.Fatalf("append dead letter: %v", err)
	}

	msgs, err := log.Recent(ctx, DeadLetterStream, 1)
	if err != nil {
		t.Fatalf("read dead letters: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(msgs))
	}
	entry := msgs[0].Values
	if entry["event_type"] != "invoice.generated" {
		t.Errorf("expected event_type invoice.generated, got %v", entry["event_type"])
	}
	if entry["handler"] != "ar_aging" {
		t.Errorf("expected handler ar_aging, got %v", entry["handler"])
	}
	if entry["error"] != "redis write refused" {
		t.Errorf("expected error message, got %v", entry["error"])
	}
	if _, ok := entry["event"]; !ok {
		t.Error("expected full event payload in dead letter entry")
	}
}

func TestStreamLog_CapsLength(t *testing.T) {
	log := newTestLog(t, 10)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		if err := log.Append(ctx, New("invoice.generated", "Invoice", "inv", nil)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	depth, err := log.Depth(ctx, StreamName("Invoice"))
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	// Trimming is approximate; the stream must stay well below the insert count.
	if depth >= 200 {
		t.Errorf("expected stream to be trimmed, depth %d", depth)
	}
}
