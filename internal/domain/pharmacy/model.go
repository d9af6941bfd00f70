package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

// Dispense records medication handed to a patient. Stock management lives
// elsewhere; this is the clinical/billing record of the act.
type Dispense struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	EncounterID    *uuid.UUID `json:"encounter_id,omitempty"`
	MedicationCode string     `json:"medication_code"`
	MedicationName string     `json:"medication_name,omitempty"`
	Quantity       float64    `json:"quantity"`
	Unit           string     `json:"unit"`
	Instructions   string     `json:"instructions,omitempty"`
	DispensedAt    time.Time  `json:"dispensed_at"`
}
