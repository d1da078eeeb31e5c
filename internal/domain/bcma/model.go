package bcma

import (
	"time"

	"github.com/google/uuid"
)

// Checks are the independent verification outcomes of one scan. Dose and
// route are not verified separately; they pass once the medication matches.
type Checks struct {
	Patient    bool `json:"patient"`
	Medication bool `json:"medication"`
	Dose       bool `json:"dose"`
	Route      bool `json:"route"`
	Timing     bool `json:"timing"`
}

func (c Checks) All() bool {
	return c.Patient && c.Medication && c.Dose && c.Route && c.Timing
}

// Result is shown to the operator. Errors block administration; warnings
// only ask for confirmation.
type Result struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Checks   Checks   `json:"checks"`

	tooSoon bool
}

// IdentityMismatch reports a wrong patient or wrong medication scan.
func (r *Result) IdentityMismatch() bool {
	return !r.Checks.Patient || !r.Checks.Medication
}

// TooSoon reports that the minimum safe interval since the last dose has not
// elapsed.
func (r *Result) TooSoon() bool { return r.tooSoon }

const OverrideTiming = "timing"

// AdministrationRecord is written once per confirmed administration and never
// changed afterwards.
type AdministrationRecord struct {
	ID             uuid.UUID `db:"id" json:"id"`
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	MedicationID   uuid.UUID `db:"medication_id" json:"medication_id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	AdministeredBy string    `db:"administered_by" json:"administered_by"`
	Timestamp      time.Time `db:"administered_at" json:"timestamp"`
	Dosage         string    `db:"dosage" json:"dosage"`
	Route          string    `db:"route" json:"route"`
	Checks         Checks    `json:"checks"`
	Overrides      []string  `db:"overrides" json:"overrides"`
	Notes          *string   `db:"notes" json:"notes,omitempty"`
}
