package pharmacy

import (
	"context"

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

type dispenseRepoPG struct{ pool *pgxpool.Pool }

func NewDispenseRepoPG(pool *pgxpool.Pool) DispenseRepository { return &dispenseRepoPG{pool: pool} }

func (r *dispenseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const dispCols = `id, patient_id, encounter_id, medication_code, medication_name, quantity, unit, instructions, dispensed_at`

func (r *dispenseRepoPG) scanDispense(row pgx.Row) (*Dispense, error) {
	var d Dispense
	err := row.Scan(&d.ID, &d.PatientID, &d.EncounterID, &d.MedicationCode, &d.MedicationName,
		&d.Quantity, &d.Unit, &d.Instructions, &d.DispensedAt)
	return &d, err
}

func (r *dispenseRepoPG) Create(ctx context.Context, d *Dispense) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dispense (id, patient_id, encounter_id, medication_code, medication_name, quantity, unit, instructions, dispensed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.PatientID, d.EncounterID, d.MedicationCode, d.MedicationName,
		d.Quantity, d.Unit, d.Instructions, d.DispensedAt)
	return err
}

func (r *dispenseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Dispense, error) {
	return r.scanDispense(r.conn(ctx).QueryRow(ctx, `SELECT `+dispCols+` FROM dispense WHERE id = $1`, id))
}

func (r *dispenseRepoPG) List(ctx context.Context, limit, offset int) ([]*Dispense, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM dispense`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+dispCols+` FROM dispense ORDER BY dispensed_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Dispense
	for rows.Next() {
		d, err := r.scanDispense(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *dispenseRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispense, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM dispense WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+dispCols+` FROM dispense WHERE patient_id = $1 ORDER BY dispensed_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Dispense
	for rows.Next() {
		d, err := r.scanDispense(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
