package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Bus dispatches domain events to subscribed handlers after appending them to
// the durable log. Dispatch is synchronous and in subscription order; a
// handler failure is recorded and never stops the remaining handlers, and no
// event-layer error ever reaches the publishing command handler.
type Bus struct {
	log    *StreamLog
	logger zerolog.Logger

	mu         sync.RWMutex
	handlers   map[string][]Handler
	registered map[string]bool // "<event_type>/<handler_name>"
}

func NewBus(log *StreamLog, logger zerolog.Logger) *Bus {
	return &Bus{
		log:        log,
		logger:     logger,
		handlers:   make(map[string][]Handler),
		registered: make(map[string]bool),
	}
}

// Subscribe registers a handler for an event type. Subscribing the same
// handler name to the same event type twice is a no-op, so projection
// maintainers can be wired unconditionally at startup.
func (b *Bus) Subscribe(eventType string, h Handler) {
	key := eventType + "/" + h.Name()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registered[key] {
		return
	}
	b.registered[key] = true
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish appends the event to the durable log and dispatches it to every
// subscriber. A log-append failure is logged and dispatch proceeds anyway:
// projections staying current matters more than a complete operational log.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if err := b.log.Append(ctx, evt); err != nil {
		b.logger.Error().Err(err).
			Str("event_id", evt.ID).
			Str("event_type", evt.Type).
			Msg("event log append failed")
	}

	b.mu.RLock()
	handlers := b.handlers[evt.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := b.dispatch(ctx, h, evt); err != nil {
			b.logger.Error().Err(err).
				Str("event_id", evt.ID).
				Str("event_type", evt.Type).
				Str("handler", h.Name()).
				Str("tenant_id", evt.TenantID).
				Msg("event handler failed")

			if dlErr := b.log.AppendDeadLetter(ctx, evt, h.Name(), err); dlErr != nil {
				b.logger.Error().Err(dlErr).
					Str("event_id", evt.ID).
					Msg("dead letter append failed")
			}
		}
	}
}

// dispatch runs one handler, converting a panic into an error so a buggy
// subscriber cannot take down the publishing request.
func (b *Bus) dispatch(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, evt)
}
