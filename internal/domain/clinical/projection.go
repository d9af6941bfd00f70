package clinical

import (
	"context"
	"fmt"
	"time"

	"github.com/hmis/hmis/internal/platform/events"
	"github.com/hmis/hmis/internal/platform/projection"
)

// dxTrendsTTL bounds drift in the diagnosis ranking the same way the billing
// aggregates are bounded: increments are not idempotent, so expiry forces a
// periodic recount from the primary.
const dxTrendsTTL = 24 * time.Hour

func dxTrendsKey(tenantID string) string {
	return "proj:dx_trends:" + tenantID
}

// DiagnosisTrendsProjection maintains a per-tenant ranking of diagnosis codes
// by frequency.
type DiagnosisTrendsProjection struct {
	store *projection.Store
}

func NewDiagnosisTrendsProjection(store *projection.Store) *DiagnosisTrendsProjection {
	return &DiagnosisTrendsProjection{store: store}
}

func (p *DiagnosisTrendsProjection) Name() string { return "diagnosis_trends" }

func (p *DiagnosisTrendsProjection) Handle(ctx context.Context, evt events.Event) error {
	if evt.Type != EventDiagnosisAdded {
		return nil
	}
	if evt.TenantID == "" {
		return fmt.Errorf("event %s has no tenant", evt.ID)
	}
	code, _ := evt.Data["diagnosis_code"].(string)
	if code == "" {
		return fmt.Errorf("event %s has no diagnosis_code", evt.ID)
	}
	return p.store.IncrRank(ctx, dxTrendsKey(evt.TenantID), code, 1, dxTrendsTTL)
}
