package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

type DispenseRepository interface {
	Create(ctx context.Context, d *Dispense) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dispense, error)
	List(ctx context.Context, limit, offset int) ([]*Dispense, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispense, int, error)
}
