package billing

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmis/hmis/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const invCols = `id, patient_id, encounter_id, status, subtotal, tax, grand_total, currency, created_at`

func (r *invoiceRepoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.EncounterID, &inv.Status,
		&inv.Subtotal, &inv.Tax, &inv.GrandTotal, &inv.Currency, &inv.CreatedAt)
	return &inv, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice (id, patient_id, encounter_id, status, subtotal, tax, grand_total, currency)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		inv.ID, inv.PatientID, inv.EncounterID, inv.Status,
		inv.Subtotal, inv.Tax, inv.GrandTotal, inv.Currency)
	return err
}

func (r *invoiceRepoPG) AddLineItem(ctx context.Context, li *LineItem) error {
	if li.ID == uuid.Nil {
		li.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_line_item (id, invoice_id, sequence, description, quantity, unit_price, amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		li.ID, li.InvoiceID, li.Sequence, li.Description, li.Quantity, li.UnitPrice, li.Amount)
	return err
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice WHERE id = $1`, id))
}

func (r *invoiceRepoPG) GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, sequence, description, quantity, unit_price, amount
		FROM invoice_line_item WHERE invoice_id = $1 ORDER BY sequence`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.Sequence, &li.Description,
			&li.Quantity, &li.UnitPrice, &li.Amount); err != nil {
			return nil, err
		}
		items = append(items, &li)
	}
	return items, rows.Err()
}

func (r *invoiceRepoPG) List(ctx context.Context, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+invCols+` FROM invoice ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *invoiceRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+invCols+` FROM invoice WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payment (id, invoice_id, amount, method, reference)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference)
	return err
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, received_at
		FROM payment WHERE invoice_id = $1 ORDER BY received_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

// =========== Reports Repository ===========

// reportsRepoPG recomputes aggregates on the read replica. Replica lag is
// acceptable staleness for reports; the projection path covers the fast case.
type reportsRepoPG struct{ read *db.ReadPool }

func NewReportsRepoPG(read *db.ReadPool) ReportsRepository { return &reportsRepoPG{read: read} }

func (r *reportsRepoPG) ARAging(ctx context.Context) (*ARAgingReport, error) {
	conn, release, err := r.read.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	report := &ARAgingReport{StatusCounts: make(map[string]int64)}

	var invoiced float64
	err = conn.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(grand_total), 0) FROM invoice`).
		Scan(&report.TotalInvoices, &invoiced)
	if err != nil {
		return nil, fmt.Errorf("aggregate invoices: %w", err)
	}

	err = conn.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payment`).
		Scan(&report.TotalCollected)
	if err != nil {
		return nil, fmt.Errorf("aggregate payments: %w", err)
	}
	report.TotalAR = invoiced - report.TotalCollected

	rows, err := conn.Query(ctx, `SELECT status, COUNT(*) FROM invoice GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count invoice statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		report.StatusCounts[status] = count
	}
	return report, rows.Err()
}

func (r *reportsRepoPG) RevenueByDay(ctx context.Context, days int) ([]RevenueDay, error) {
	conn, release, err := r.read.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	byDate := make(map[string]*RevenueDay)

	rows, err := conn.Query(ctx, `
		SELECT TO_CHAR(created_at::date, 'YYYY-MM-DD'), COALESCE(SUM(grand_total), 0), COUNT(*)
		FROM invoice
		WHERE created_at >= NOW() - ($1 || ' days')::interval
		GROUP BY 1`, days)
	if err != nil {
		return nil, fmt.Errorf("aggregate invoiced revenue: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d RevenueDay
		if err := rows.Scan(&d.Date, &d.Invoiced, &d.InvoiceCount); err != nil {
			return nil, err
		}
		byDate[d.Date] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	payRows, err := conn.Query(ctx, `
		SELECT TO_CHAR(received_at::date, 'YYYY-MM-DD'), COALESCE(SUM(amount), 0), COUNT(*)
		FROM payment
		WHERE received_at >= NOW() - ($1 || ' days')::interval
		GROUP BY 1`, days)
	if err != nil {
		return nil, fmt.Errorf("aggregate collected revenue: %w", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var date string
		var collected float64
		var count int64
		if err := payRows.Scan(&date, &collected, &count); err != nil {
			return nil, err
		}
		d, ok := byDate[date]
		if !ok {
			d = &RevenueDay{Date: date}
			byDate[date] = d
		}
		d.Collected = collected
		d.PaymentCount = count
	}
	if err := payRows.Err(); err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	out := make([]RevenueDay, 0, len(dates))
	for _, date := range dates {
		out = append(out, *byDate[date])
	}
	return out, nil
}
