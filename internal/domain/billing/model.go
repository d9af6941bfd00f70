package billing

import (
	"time"

	"github.com/google/uuid"
)

// Invoice is the billable record for an encounter or standalone service.
// Amounts are computed from line items at creation and never mutated by
// events; projections carry the running aggregates instead.
type Invoice struct {
	ID          uuid.UUID   `json:"id"`
	PatientID   uuid.UUID   `json:"patient_id"`
	EncounterID *uuid.UUID  `json:"encounter_id,omitempty"`
	Status      string      `json:"status"`
	Subtotal    float64     `json:"subtotal"`
	Tax         float64     `json:"tax"`
	GrandTotal  float64     `json:"grand_total"`
	Currency    string      `json:"currency"`
	LineItems   []*LineItem `json:"line_items,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// LineItem is one billed service or product on an invoice.
type LineItem struct {
	ID          uuid.UUID `json:"id"`
	InvoiceID   uuid.UUID `json:"invoice_id"`
	Sequence    int       `json:"sequence"`
	Description string    `json:"description"`
	Quantity    float64   `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	Amount      float64   `json:"amount"`
}

// Payment records money received against an invoice. Partial payments are
// normal; nothing requires payments to sum to the invoice total.
type Payment struct {
	ID         uuid.UUID `json:"id"`
	InvoiceID  uuid.UUID `json:"invoice_id"`
	Amount     float64   `json:"amount"`
	Method     string    `json:"method"`
	Reference  *string   `json:"reference,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ARAgingReport summarizes receivables for a tenant. Source names where the
// numbers came from: "projection" for the cached aggregate, "primary" for a
// recount against Postgres after a cache miss.
type ARAgingReport struct {
	TotalInvoices  int64            `json:"total_invoices"`
	TotalAR        float64          `json:"total_ar"`
	TotalCollected float64          `json:"total_collected"`
	StatusCounts   map[string]int64 `json:"status_counts"`
	Source         string           `json:"source"`
}

// RevenueDay is one day's invoiced and collected totals.
type RevenueDay struct {
	Date         string  `json:"date"`
	Invoiced     float64 `json:"invoiced"`
	Collected    float64 `json:"collected"`
	InvoiceCount int64   `json:"invoice_count"`
	PaymentCount int64   `json:"payment_count"`
}

// RevenueReport is a per-day revenue series, oldest day first.
type RevenueReport struct {
	Days   []RevenueDay `json:"days"`
	Source string       `json:"source"`
}
