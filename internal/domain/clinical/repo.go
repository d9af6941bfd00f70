package clinical

import (
	"context"

	"github.com/google/uuid"
)

type EncounterRepository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error)
}

type DiagnosisRepository interface {
	Create(ctx context.Context, dx *Diagnosis) error
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Diagnosis, error)
}

// TrendsRepository recomputes the diagnosis ranking from the primary store
// when the cached ranking is missing.
type TrendsRepository interface {
	TopDiagnoses(ctx context.Context, n int) ([]DiagnosisTrend, error)
}
