package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/hmis/hmis/internal/platform/events"
	"github.com/hmis/hmis/internal/platform/projection"
)

const (
	// arAgingTTL bounds how long a drifted AR aggregate can live. Projection
	// updates are not idempotent, so a redelivered or lost event skews the
	// counters; expiry forces a recount from the primary instead of letting
	// the drift persist.
	arAgingTTL = 30 * time.Minute

	// revenueTTL keeps enough per-day buckets for a quarter's report.
	revenueTTL = 90 * 24 * time.Hour

	revenueDateLayout = "2006-01-02"
)

func arAgingKey(tenantID string) string {
	return "proj:ar_aging:" + tenantID
}

func revenueKey(tenantID, date string) string {
	return fmt.Sprintf("proj:revenue:%s:%s", tenantID, date)
}

// amount pulls a numeric field out of an event payload. JSON numbers decode
// as float64; anything else counts as zero.
func amount(data map[string]interface{}, key string) float64 {
	v, _ := data[key].(float64)
	return v
}

// ARAgingProjection maintains the per-tenant receivables aggregate from
// invoice and payment events.
type ARAgingProjection struct {
	store *projection.Store
}

func NewARAgingProjection(store *projection.Store) *ARAgingProjection {
	return &ARAgingProjection{store: store}
}

func (p *ARAgingProjection) Name() string { return "ar_aging" }

func (p *ARAgingProjection) Handle(ctx context.Context, evt events.Event) error {
	if evt.TenantID == "" {
		return fmt.Errorf("event %s has no tenant", evt.ID)
	}
	key := arAgingKey(evt.TenantID)

	switch evt.Type {
	case EventInvoiceGenerated:
		status, _ := evt.Data["status"].(string)
		return p.store.ApplyCounters(ctx, key, map[string]float64{
			"total_invoices":   1,
			"total_ar":         amount(evt.Data, "grand_total"),
			"status:" + status: 1,
		}, arAgingTTL)
	case EventPaymentReceived:
		paid := amount(evt.Data, "amount")
		return p.store.ApplyCounters(ctx, key, map[string]float64{
			"total_ar":        -paid,
			"total_collected": paid,
		}, arAgingTTL)
	}
	return nil
}

// RevenueProjection maintains per-day buckets of invoiced and collected
// totals from invoice and payment events.
type RevenueProjection struct {
	store *projection.Store
}

func NewRevenueProjection(store *projection.Store) *RevenueProjection {
	return &RevenueProjection{store: store}
}

func (p *RevenueProjection) Name() string { return "revenue" }

func (p *RevenueProjection) Handle(ctx context.Context, evt events.Event) error {
	if evt.TenantID == "" {
		return fmt.Errorf("event %s has no tenant", evt.ID)
	}
	key := revenueKey(evt.TenantID, evt.Timestamp.UTC().Format(revenueDateLayout))

	switch evt.Type {
	case EventInvoiceGenerated:
		return p.store.ApplyCounters(ctx, key, map[string]float64{
			"invoiced":      amount(evt.Data, "grand_total"),
			"invoice_count": 1,
		}, revenueTTL)
	case EventPaymentReceived:
		return p.store.ApplyCounters(ctx, key, map[string]float64{
			"collected":     amount(evt.Data, "amount"),
			"payment_count": 1,
		}, revenueTTL)
	}
	return nil
}
