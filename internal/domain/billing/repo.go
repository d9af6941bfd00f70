package billing

import (
	"context"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	AddLineItem(ctx context.Context, li *LineItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error)
	List(ctx context.Context, limit, offset int) ([]*Invoice, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}

// ReportsRepository recomputes report aggregates from the primary store. The
// query path only reaches for it when the cached projection is missing.
type ReportsRepository interface {
	ARAging(ctx context.Context) (*ARAgingReport, error)
	RevenueByDay(ctx context.Context, days int) ([]RevenueDay, error)
}
