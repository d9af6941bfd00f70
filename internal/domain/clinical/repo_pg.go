package clinical

import (
	"context"
	"fmt"

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

// =========== Encounter Repository ===========

type encounterRepoPG struct{ pool *pgxpool.Pool }

func NewEncounterRepoPG(pool *pgxpool.Pool) EncounterRepository { return &encounterRepoPG{pool: pool} }

func (r *encounterRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const encCols = `id, patient_id, type, status, reason, started_at, ended_at, created_at`

func (r *encounterRepoPG) scanEncounter(row pgx.Row) (*Encounter, error) {
	var enc Encounter
	err := row.Scan(&enc.ID, &enc.PatientID, &enc.Type, &enc.Status, &enc.Reason,
		&enc.StartedAt, &enc.EndedAt, &enc.CreatedAt)
	return &enc, err
}

func (r *encounterRepoPG) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter (id, patient_id, type, status, reason, started_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		enc.ID, enc.PatientID, enc.Type, enc.Status, enc.Reason, enc.StartedAt)
	return err
}

func (r *encounterRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.scanEncounter(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
}

func (r *encounterRepoPG) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Encounter
	for rows.Next() {
		enc, err := r.scanEncounter(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, enc)
	}
	return items, total, rows.Err()
}

func (r *encounterRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE patient_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Encounter
	for rows.Next() {
		enc, err := r.scanEncounter(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, enc)
	}
	return items, total, rows.Err()
}

// =========== Diagnosis Repository ===========

type diagnosisRepoPG struct{ pool *pgxpool.Pool }

func NewDiagnosisRepoPG(pool *pgxpool.Pool) DiagnosisRepository { return &diagnosisRepoPG{pool: pool} }

func (r *diagnosisRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *diagnosisRepoPG) Create(ctx context.Context, dx *Diagnosis) error {
	if dx.ID == uuid.Nil {
		dx.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO diagnosis (id, encounter_id, code, description, recorded_at)
		VALUES ($1,$2,$3,$4,$5)`,
		dx.ID, dx.EncounterID, dx.Code, dx.Description, dx.RecordedAt)
	return err
}

func (r *diagnosisRepoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Diagnosis, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, encounter_id, code, description, recorded_at
		FROM diagnosis WHERE encounter_id = $1 ORDER BY recorded_at`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Diagnosis
	for rows.Next() {
		var dx Diagnosis
		if err := rows.Scan(&dx.ID, &dx.EncounterID, &dx.Code, &dx.Description, &dx.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &dx)
	}
	return items, rows.Err()
}

// =========== Trends Repository ===========

// trendsRepoPG recounts diagnosis frequencies on the read replica.
type trendsRepoPG struct{ read *db.ReadPool }

func NewTrendsRepoPG(read *db.ReadPool) TrendsRepository { return &trendsRepoPG{read: read} }

func (r *trendsRepoPG) TopDiagnoses(ctx context.Context, n int) ([]DiagnosisTrend, error) {
	conn, release, err := r.read.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.Query(ctx, `
		SELECT code, COUNT(*) FROM diagnosis
		GROUP BY code ORDER BY COUNT(*) DESC, code LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("rank diagnoses: %w", err)
	}
	defer rows.Close()

	var out []DiagnosisTrend
	for rows.Next() {
		var t DiagnosisTrend
		if err := rows.Scan(&t.Code, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
