package dlq

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hmis/hmis/internal/platform/events"
)

const recentFailureCount = 5

// Monitor periodically inspects the dead-letter stream and escalates through
// log severity as the backlog grows. It has no alerting transport of its own;
// operators hook log-based alerting on the emitted levels.
type Monitor struct {
	log           *events.StreamLog
	logger        zerolog.Logger
	interval      time.Duration
	warnDepth     int64
	criticalDepth int64
}

func NewMonitor(log *events.StreamLog, logger zerolog.Logger, interval time.Duration, warnDepth, criticalDepth int64) *Monitor {
	return &Monitor{
		log:           log,
		logger:        logger,
		interval:      interval,
		warnDepth:     warnDepth,
		criticalDepth: criticalDepth,
	}
}

// Run checks the dead-letter stream on every tick until ctx is cancelled.
// A failed check is logged and the loop keeps going.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check inspects the dead-letter backlog once and logs at a severity matching
// its depth.
func (m *Monitor) Check(ctx context.Context) {
	depth, err := m.log.Depth(ctx, events.DeadLetterStream)
	if err != nil {
		m.logger.Error().Err(err).Msg("dead letter check failed")
		return
	}

	switch {
	case depth > m.criticalDepth:
		evt := m.logger.Error().
			Int64("depth", depth).
			Int64("threshold", m.criticalDepth)
		if summaries := m.recentFailures(ctx); len(summaries) > 0 {
			evt = evt.Strs("recent_failures", summaries)
		}
		evt.Msg("dead letter backlog critical")
	case depth > m.warnDepth:
		m.logger.Warn().
			Int64("depth", depth).
			Int64("threshold", m.warnDepth).
			Msg("dead letter backlog growing")
	default:
		m.logger.Info().
			Int64("depth", depth).
			Msg("dead letter backlog healthy")
	}
}

// recentFailures summarizes the newest dead-letter entries as
// "event_type/handler: error" strings. A read failure yields no summaries;
// the depth alert still fires without them.
func (m *Monitor) recentFailures(ctx context.Context) []string {
	msgs, err := m.log.Recent(ctx, events.DeadLetterStream, recentFailureCount)
	if err != nil {
		m.logger.Error().Err(err).Msg("dead letter summary read failed")
		return nil
	}

	summaries := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		eventType, _ := msg.Values["event_type"].(string)
		handler, _ := msg.Values["handler"].(string)
		errMsg, _ := msg.Values["error"].(string)
		summaries = append(summaries, eventType+"/"+handler+": "+errMsg)
	}
	return summaries
}
