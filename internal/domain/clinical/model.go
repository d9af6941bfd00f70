package clinical

import (
	"time"

	"github.com/google/uuid"
)

// Encounter is a patient visit: an admission, outpatient consultation, or
// emergency attendance.
type Encounter struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Diagnosis is a coded condition recorded during an encounter. Code is an
// ICD-10 code; Description is the clinician-facing label.
type Diagnosis struct {
	ID          uuid.UUID `json:"id"`
	EncounterID uuid.UUID `json:"encounter_id"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// DiagnosisTrend is one entry in the top-N diagnosis ranking.
type DiagnosisTrend struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// DiagnosisTrendsReport ranks the most frequent diagnosis codes for a tenant.
// Source is "projection" when served from the cached ranking, "primary" when
// recounted from Postgres after a cache miss.
type DiagnosisTrendsReport struct {
	Trends []DiagnosisTrend `json:"trends"`
	Source string           `json:"source"`
}
