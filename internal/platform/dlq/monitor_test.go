package dlq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hmis/hmis/internal/platform/events"
)

func newTestMonitor(t *testing.T) (*Monitor, *events.StreamLog, *bytes.Buffer, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rc.Close() })

	log := events.NewStreamLog(rc, 1000)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	return NewMonitor(log, logger, time.Minute, 10, 50), log, &buf, m
}

func fillDeadLetters(t *testing.T, log *events.StreamLog, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		evt := events.New("invoice.generated", "Invoice", fmt.Sprintf("inv-%d", i), nil)
		if err := log.AppendDeadLetter(ctx, evt, "ar_aging", errors.New("projection write failed")); err != nil {
			t.Fatalf("seed dead letter: %v", err)
		}
	}
}

func TestMonitor_EmptyBacklogIsHealthy(t *testing.T) {
	mon, _, buf, _ := newTestMonitor(t)

	mon.Check(context.Background())

	out := buf.String()
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("expected info level, got %s", out)
	}
	if !strings.Contains(out, "dead letter backlog healthy") {
		t.Errorf("expected healthy message, got %s", out)
	}
}

func TestMonitor_WarnBetweenThresholds(t *testing.T) {
	mon, log, buf, _ := newTestMonitor(t)
	fillDeadLetters(t, log, 11)

	mon.Check(context.Background())

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level, got %s", out)
	}
	if !strings.Contains(out, `"depth":11`) {
		t.Errorf("expected depth 11, got %s", out)
	}
}

func TestMonitor_AtWarnThresholdStillHealthy(t *testing.T) {
	mon, log, buf, _ := newTestMonitor(t)
	fillDeadLetters(t, log, 10)

	mon.Check(context.Background())

	if !strings.Contains(buf.String(), `"level":"info"`) {
		t.Errorf("expected info at exactly the warn threshold, got %s", buf.String())
	}
}

func TestMonitor_CriticalWithRecentFailures(t *testing.T) {
	mon, log, buf, _ := newTestMonitor(t)
	fillDeadLetters(t, log, 51)

	mon.Check(context.Background())

	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) {
		t.Errorf("expected error level, got %s", out)
	}
	if !strings.Contains(out, "dead letter backlog critical") {
		t.Errorf("expected critical message, got %s", out)
	}
	if !strings.Contains(out, "recent_failures") {
		t.Errorf("expected recent failure summaries, got %s", out)
	}
	if !strings.Contains(out, "invoice.generated/ar_aging: projection write failed") {
		t.Errorf("expected failure summary format, got %s", out)
	}
}

func TestMonitor_CheckErrorDoesNotPanic(t *testing.T) {
	mon, _, buf, m := newTestMonitor(t)
	m.Close() // force the depth read to fail

	mon.Check(context.Background())

	out := buf.String()
	if !strings.Contains(out, "dead letter check failed") {
		t.Errorf("expected check failure log, got %s", out)
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	mon, _, _, _ := newTestMonitor(t)
	mon.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor loop did not stop on cancel")
	}
}
