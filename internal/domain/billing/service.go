package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hmis/hmis/internal/platform/db"
	"github.com/hmis/hmis/internal/platform/events"
	"github.com/hmis/hmis/internal/platform/projection"
)

// Event types published by this package.
const (
	EventInvoiceGenerated = "invoice.generated"
	EventPaymentReceived  = "payment.received"
)

const (
	SourceProjection = "projection"
	SourcePrimary    = "primary"
)

var validInvoiceStatuses = map[string]bool{
	"draft": true, "issued": true, "balanced": true, "cancelled": true,
}

var validPaymentMethods = map[string]bool{
	"cash": true, "card": true, "transfer": true, "insurance": true,
}

// Service implements billing commands and queries. Commands commit inside a
// single transaction and publish their event only after the commit returns,
// so subscribers never observe uncommitted state. There is no outbox: a crash
// between commit and publish loses the event, and the projection TTL is what
// eventually repairs the resulting drift.
type Service struct {
	invoices InvoiceRepository
	payments PaymentRepository
	reports  ReportsRepository
	tx       db.Transactor
	bus      *events.Bus
	cache    *projection.Store
}

func NewService(inv InvoiceRepository, pay PaymentRepository, rep ReportsRepository,
	tx db.Transactor, bus *events.Bus, cache *projection.Store) *Service {
	return &Service{invoices: inv, payments: pay, reports: rep, tx: tx, bus: bus, cache: cache}
}

// -- Commands --

func (s *Service) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if len(inv.LineItems) == 0 {
		return fmt.Errorf("at least one line item is required")
	}
	if inv.Status == "" {
		inv.Status = "issued"
	}
	if !validInvoiceStatuses[inv.Status] {
		return fmt.Errorf("invalid invoice status: %s", inv.Status)
	}
	if inv.Currency == "" {
		inv.Currency = "USD"
	}
	if inv.Tax < 0 {
		return fmt.Errorf("tax must not be negative")
	}

	inv.ID = uuid.New()
	inv.Subtotal = 0
	for i, li := range inv.LineItems {
		if li.Quantity <= 0 {
			return fmt.Errorf("line item %d: quantity must be positive", i+1)
		}
		if li.UnitPrice < 0 {
			return fmt.Errorf("line item %d: unit price must not be negative", i+1)
		}
		li.InvoiceID = inv.ID
		li.Sequence = i + 1
		li.Amount = li.Quantity * li.UnitPrice
		inv.Subtotal += li.Amount
	}
	inv.GrandTotal = inv.Subtotal + inv.Tax
	inv.CreatedAt = time.Now().UTC()

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.invoices.Create(ctx, inv); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		for _, li := range inv.LineItems {
			if err := s.invoices.AddLineItem(ctx, li); err != nil {
				return fmt.Errorf("add line item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.NewFromContext(ctx, EventInvoiceGenerated, "Invoice", inv.ID.String(),
		map[string]interface{}{
			"patient_id":  inv.PatientID.String(),
			"status":      inv.Status,
			"grand_total": inv.GrandTotal,
			"currency":    inv.Currency,
		}))
	return nil
}

func (s *Service) RecordPayment(ctx context.Context, p *Payment) error {
	if p.InvoiceID == uuid.Nil {
		return fmt.Errorf("invoice_id is required")
	}
	if p.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if p.Method == "" {
		p.Method = "cash"
	}
	if !validPaymentMethods[p.Method] {
		return fmt.Errorf("invalid payment method: %s", p.Method)
	}

	if _, err := s.invoices.GetByID(ctx, p.InvoiceID); err != nil {
		return fmt.Errorf("invoice %s not found", p.InvoiceID)
	}

	p.ID = uuid.New()
	p.ReceivedAt = time.Now().UTC()

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Create(ctx, p); err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.NewFromContext(ctx, EventPaymentReceived, "Payment", p.ID.String(),
		map[string]interface{}{
			"invoice_id": p.InvoiceID.String(),
			"amount":     p.Amount,
			"method":     p.Method,
		}))
	return nil
}

// -- Queries --

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.invoices.GetLineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	if patientID != nil {
		return s.invoices.ListByPatient(ctx, *patientID, limit, offset)
	}
	return s.invoices.List(ctx, limit, offset)
}

func (s *Service) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return s.payments.ListByInvoice(ctx, invoiceID)
}

// GetARAgingReport serves the receivables summary from the cached projection
// and recounts from the primary store on a cache miss.
func (s *Service) GetARAgingReport(ctx context.Context) (*ARAgingReport, error) {
	tenantID := db.TenantFromContext(ctx)
	counters, err := s.cache.Counters(ctx, arAgingKey(tenantID))
	if err != nil {
		if errors.Is(err, projection.ErrCacheMiss) {
			report, err := s.reports.ARAging(ctx)
			if err != nil {
				return nil, err
			}
			report.Source = SourcePrimary
			return report, nil
		}
		return nil, err
	}

	report := &ARAgingReport{
		TotalInvoices:  int64(counters["total_invoices"]),
		TotalAR:        counters["total_ar"],
		TotalCollected: counters["total_collected"],
		StatusCounts:   make(map[string]int64),
		Source:         SourceProjection,
	}
	for field, v := range counters {
		if status, ok := strings.CutPrefix(field, "status:"); ok {
			report.StatusCounts[status] = int64(v)
		}
	}
	return report, nil
}

// GetRevenueReport serves per-day revenue for the trailing window. Days are
// read from their projection buckets; when every bucket is missing the whole
// report is recomputed from the primary store. Individual missing days in an
// otherwise live projection are genuine zero-revenue days.
func (s *Service) GetRevenueReport(ctx context.Context, days int) (*RevenueReport, error) {
	if days <= 0 {
		days = 7
	}

	tenantID := db.TenantFromContext(ctx)
	now := time.Now().UTC()

	out := make([]RevenueDay, 0, days)
	misses := 0
	for i := days - 1; i >= 0; i-- {
		date := now.AddDate(0, 0, -i).Format(revenueDateLayout)
		counters, err := s.cache.Counters(ctx, revenueKey(tenantID, date))
		if err != nil {
			if !errors.Is(err, projection.ErrCacheMiss) {
				return nil, err
			}
			misses++
			out = append(out, RevenueDay{Date: date})
			continue
		}
		out = append(out, RevenueDay{
			Date:         date,
			Invoiced:     counters["invoiced"],
			Collected:    counters["collected"],
			InvoiceCount: int64(counters["invoice_count"]),
			PaymentCount: int64(counters["payment_count"]),
		})
	}

	if misses == days {
		primaryDays, err := s.reports.RevenueByDay(ctx, days)
		if err != nil {
			return nil, err
		}
		return &RevenueReport{Days: primaryDays, Source: SourcePrimary}, nil
	}
	return &RevenueReport{Days: out, Source: SourceProjection}, nil
}
