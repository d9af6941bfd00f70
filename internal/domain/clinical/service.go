package clinical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hmis/hmis/internal/platform/db"
	"github.com/hmis/hmis/internal/platform/events"
	"github.com/hmis/hmis/internal/platform/projection"
)

// Event types published by this package.
const (
	EventEncounterCreated = "encounter.created"
	EventDiagnosisAdded   = "diagnosis.added"
)

const (
	SourceProjection = "projection"
	SourcePrimary    = "primary"
)

var validEncounterTypes = map[string]bool{
	"outpatient": true, "inpatient": true, "emergency": true, "virtual": true,
}

var validEncounterStatuses = map[string]bool{
	"planned": true, "in-progress": true, "finished": true, "cancelled": true,
}

// Service implements clinical commands and queries. Commands follow the same
// commit-then-publish contract as billing: the transaction commits first, the
// event goes out after, and a crash in between loses the event.
type Service struct {
	encounters EncounterRepository
	diagnoses  DiagnosisRepository
	trends     TrendsRepository
	tx         db.Transactor
	bus        *events.Bus
	cache      *projection.Store
}

func NewService(enc EncounterRepository, dx DiagnosisRepository, trends TrendsRepository,
	tx db.Transactor, bus *events.Bus, cache *projection.Store) *Service {
	return &Service{encounters: enc, diagnoses: dx, trends: trends, tx: tx, bus: bus, cache: cache}
}

// -- Commands --

func (s *Service) CreateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if enc.Type == "" {
		enc.Type = "outpatient"
	}
	if !validEncounterTypes[enc.Type] {
		return fmt.Errorf("invalid encounter type: %s", enc.Type)
	}
	if enc.Status == "" {
		enc.Status = "in-progress"
	}
	if !validEncounterStatuses[enc.Status] {
		return fmt.Errorf("invalid encounter status: %s", enc.Status)
	}
	if enc.StartedAt.IsZero() {
		enc.StartedAt = time.Now().UTC()
	}

	enc.ID = uuid.New()
	enc.CreatedAt = time.Now().UTC()

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.encounters.Create(ctx, enc); err != nil {
			return fmt.Errorf("create encounter: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.NewFromContext(ctx, EventEncounterCreated, "Encounter", enc.ID.String(),
		map[string]interface{}{
			"patient_id": enc.PatientID.String(),
			"type":       enc.Type,
			"status":     enc.Status,
		}))
	return nil
}

func (s *Service) AddDiagnosis(ctx context.Context, dx *Diagnosis) error {
	if dx.EncounterID == uuid.Nil {
		return fmt.Errorf("encounter_id is required")
	}
	if dx.Code == "" {
		return fmt.Errorf("diagnosis code is required")
	}

	if _, err := s.encounters.GetByID(ctx, dx.EncounterID); err != nil {
		return fmt.Errorf("encounter %s not found", dx.EncounterID)
	}

	dx.ID = uuid.New()
	dx.RecordedAt = time.Now().UTC()

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.diagnoses.Create(ctx, dx); err != nil {
			return fmt.Errorf("add diagnosis: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.NewFromContext(ctx, EventDiagnosisAdded, "Diagnosis", dx.ID.String(),
		map[string]interface{}{
			"encounter_id":   dx.EncounterID.String(),
			"diagnosis_code": dx.Code,
			"description":    dx.Description,
		}))
	return nil
}

// -- Queries --

func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.encounters.GetByID(ctx, id)
}

func (s *Service) ListEncounters(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	if patientID != nil {
		return s.encounters.ListByPatient(ctx, *patientID, limit, offset)
	}
	return s.encounters.List(ctx, limit, offset)
}

func (s *Service) ListDiagnoses(ctx context.Context, encounterID uuid.UUID) ([]*Diagnosis, error) {
	return s.diagnoses.ListByEncounter(ctx, encounterID)
}

// GetDiagnosisTrends serves the top-n diagnosis codes from the cached ranking
// and recounts from the primary store on a cache miss.
func (s *Service) GetDiagnosisTrends(ctx context.Context, n int) (*DiagnosisTrendsReport, error) {
	if n <= 0 {
		n = 10
	}

	tenantID := db.TenantFromContext(ctx)
	ranked, err := s.cache.TopRanked(ctx, dxTrendsKey(tenantID), int64(n))
	if err != nil {
		if errors.Is(err, projection.ErrCacheMiss) {
			trends, err := s.trends.TopDiagnoses(ctx, n)
			if err != nil {
				return nil, err
			}
			return &DiagnosisTrendsReport{Trends: trends, Source: SourcePrimary}, nil
		}
		return nil, err
	}

	trends := make([]DiagnosisTrend, 0, len(ranked))
	for _, entry := range ranked {
		trends = append(trends, DiagnosisTrend{Code: entry.Member, Count: int64(entry.Score)})
	}
	return &DiagnosisTrendsReport{Trends: trends, Source: SourceProjection}, nil
}
