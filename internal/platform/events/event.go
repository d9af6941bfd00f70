package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hmis/hmis/internal/platform/auth"
	"github.com/hmis/hmis/internal/platform/db"
)

// Event is the envelope every domain event travels in. Data carries the
// event-specific payload; consumers must tolerate missing keys because
// producers evolve independently.
type Event struct {
	ID            string                 `json:"event_id"`
	Type          string                 `json:"event_type"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Data          map[string]interface{} `json:"data"`
	TenantID      string                 `json:"tenant_id"`
	UserID        string                 `json:"user_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// New builds an event envelope with a fresh ID and UTC timestamp.
func New(eventType, aggregateType, aggregateID string, data map[string]interface{}) Event {
	return Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}
}

// NewFromContext builds an event envelope stamped with the tenant and user
// from the request context. Projections depend on TenantID to key their
// cached aggregates, so command handlers must use this constructor.
func NewFromContext(ctx context.Context, eventType, aggregateType, aggregateID string, data map[string]interface{}) Event {
	evt := New(eventType, aggregateType, aggregateID, data)
	evt.TenantID = db.TenantFromContext(ctx)
	evt.UserID = auth.UserIDFromContext(ctx)
	return evt
}

// Handler consumes domain events. Name must be stable across restarts: the
// bus uses it to deduplicate subscriptions and the dead-letter records use it
// to identify which consumer failed.
type Handler interface {
	Name() string
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, evt Event) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, evt Event) error { return h.Fn(ctx, evt) }
