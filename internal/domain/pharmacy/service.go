package pharmacy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hmis/hmis/internal/platform/db"
	"github.com/hmis/hmis/internal/platform/events"
)

// EventMedicationDispensed is published after a dispense record commits. No
// projection consumes it yet; it lands in the durable log for the audit and
// event-inspection endpoints.
const EventMedicationDispensed = "medication.dispensed"

// Service implements pharmacy commands under the same commit-then-publish
// contract as the other domains.
type Service struct {
	dispenses DispenseRepository
	tx        db.Transactor
	bus       *events.Bus
}

func NewService(disp DispenseRepository, tx db.Transactor, bus *events.Bus) *Service {
	return &Service{dispenses: disp, tx: tx, bus: bus}
}

func (s *Service) DispenseMedication(ctx context.Context, d *Dispense) error {
	if d.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if d.MedicationCode == "" {
		return fmt.Errorf("medication_code is required")
	}
	if d.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if d.Unit == "" {
		d.Unit = "unit"
	}

	d.ID = uuid.New()
	d.DispensedAt = time.Now().UTC()

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.dispenses.Create(ctx, d); err != nil {
			return fmt.Errorf("record dispense: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.NewFromContext(ctx, EventMedicationDispensed, "Dispense", d.ID.String(),
		map[string]interface{}{
			"patient_id":      d.PatientID.String(),
			"medication_code": d.MedicationCode,
			"quantity":        d.Quantity,
			"unit":            d.Unit,
		}))
	return nil
}

func (s *Service) GetDispense(ctx context.Context, id uuid.UUID) (*Dispense, error) {
	return s.dispenses.GetByID(ctx, id)
}

func (s *Service) ListDispenses(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Dispense, int, error) {
	if patientID != nil {
		return s.dispenses.ListByPatient(ctx, *patientID, limit, offset)
	}
	return s.dispenses.List(ctx, limit, offset)
}
