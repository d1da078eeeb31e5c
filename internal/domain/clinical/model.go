package clinical

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ConditionCritical = "Critical"
	ConditionStable   = "Stable"
	ConditionGood     = "Good"
	ConditionFair     = "Fair"
)

// Patient is the subset of the chart the safety core reads.
type Patient struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	Identifier string    `db:"identifier" json:"identifier"`
	FirstName  string    `db:"first_name" json:"first_name"`
	LastName   string    `db:"last_name" json:"last_name"`
	Condition  string    `db:"condition" json:"condition"`
	Discharged bool      `db:"discharged" json:"discharged"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func (p *Patient) IsCritical() bool {
	return strings.EqualFold(p.Condition, ConditionCritical)
}

const (
	MedicationActive       = "Active"
	MedicationDiscontinued = "Discontinued"
	MedicationHeld         = "Held"
	MedicationCompleted    = "Completed"

	CategoryScheduled = "scheduled"
	CategoryPRN       = "prn"
)

// MedicationEntry is one line of a patient's medication schedule.
type MedicationEntry struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	TenantID         string     `db:"tenant_id" json:"tenant_id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	Name             string     `db:"name" json:"name"`
	Dosage           string     `db:"dosage" json:"dosage"`
	Route            string     `db:"route" json:"route"`
	Frequency        string     `db:"frequency" json:"frequency"`
	Status           string     `db:"status" json:"status"`
	Category         string     `db:"category" json:"category"`
	LastAdministered *time.Time `db:"last_administered" json:"last_administered,omitempty"`
	NextDue          *time.Time `db:"next_due" json:"next_due,omitempty"`
}

func (m *MedicationEntry) IsPRN() bool {
	return strings.EqualFold(m.Category, CategoryPRN)
}

func (m *MedicationEntry) IsActive() bool {
	return strings.EqualFold(m.Status, MedicationActive)
}

// VitalsSnapshot is the most recent set of readings for a patient. A nil field
// means the reading was not captured.
type VitalsSnapshot struct {
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	TenantID         string    `db:"tenant_id" json:"tenant_id"`
	Temperature      *float64  `db:"temperature" json:"temperature,omitempty"`
	Systolic         *int      `db:"systolic" json:"systolic,omitempty"`
	Diastolic        *int      `db:"diastolic" json:"diastolic,omitempty"`
	HeartRate        *int      `db:"heart_rate" json:"heart_rate,omitempty"`
	RespiratoryRate  *int      `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	OxygenSaturation *int      `db:"oxygen_saturation" json:"oxygen_saturation,omitempty"`
	RecordedAt       time.Time `db:"recorded_at" json:"recorded_at"`
}
