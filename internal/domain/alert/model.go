package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindMedicationDue  Kind = "medication_due"
	KindVitalSigns     Kind = "vital_signs"
	KindEmergency      Kind = "emergency"
	KindLabResults     Kind = "lab_results"
	KindDischargeReady Kind = "discharge_ready"
)

var validKinds = map[Kind]bool{
	KindMedicationDue: true, KindVitalSigns: true, KindEmergency: true,
	KindLabResults: true, KindDischargeReady: true,
}

func (k Kind) Valid() bool { return validKinds[k] }

// Priority is ordered: Low < Medium < High < Critical.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("invalid priority: %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

const (
	// SubjectVitalsOverdue groups missing-vitals alerts for a patient.
	SubjectVitalsOverdue = "vitals overdue"

	// EscalationActor acknowledges alerts superseded by a changed candidate.
	EscalationActor = "system:escalation"

	overduePrefix = "OVERDUE: "
)

// Alert is one actionable clinical notification.
type Alert struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TenantID       string     `db:"tenant_id" json:"tenant_id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	Kind           Kind       `db:"kind" json:"kind"`
	SubjectKey     string     `db:"subject_key" json:"subject_key"`
	Message        string     `db:"message" json:"message"`
	Priority       Priority   `db:"priority" json:"priority"`
	Acknowledged   bool       `db:"acknowledged" json:"acknowledged"`
	AcknowledgedBy *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt      *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// Subject returns the stored subject key, falling back to the key derived
// from the message for rows written without one.
func (a *Alert) Subject() string {
	if a.SubjectKey != "" {
		return a.SubjectKey
	}
	return SubjectKeyFromMessage(a.Kind, a.Message)
}

func (a *Alert) Key() Key {
	return Key{TenantID: a.TenantID, PatientID: a.PatientID, Kind: a.Kind, Subject: a.Subject()}
}

// Overdue reports the overdue status carried by a medication alert message.
func (a *Alert) Overdue() bool {
	return a.Kind == KindMedicationDue && strings.HasPrefix(a.Message, overduePrefix)
}

func (a *Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// Key identifies "the same ongoing problem" for deduplication.
type Key struct {
	TenantID  string
	PatientID uuid.UUID
	Kind      Kind
	Subject   string
}

func (k Key) String() string {
	return k.TenantID + "/" + k.PatientID.String() + "/" + string(k.Kind) + "/" + k.Subject
}

// Candidate is an alert computed by a rule before deduplication decides
// whether it is persisted.
type Candidate struct {
	TenantID   string
	PatientID  uuid.UUID
	Kind       Kind
	SubjectKey string
	Message    string
	Priority   Priority
	Overdue    bool
	ExpiresAt  time.Time
}

func (c *Candidate) Key() Key {
	return Key{TenantID: c.TenantID, PatientID: c.PatientID, Kind: c.Kind, Subject: c.SubjectKey}
}

func (c *Candidate) newAlert(now time.Time) *Alert {
	a := &Alert{
		ID:         uuid.New(),
		TenantID:   c.TenantID,
		PatientID:  c.PatientID,
		Kind:       c.Kind,
		SubjectKey: c.SubjectKey,
		Message:    c.Message,
		Priority:   c.Priority,
		CreatedAt:  now,
	}
	if !c.ExpiresAt.IsZero() {
		exp := c.ExpiresAt
		a.ExpiresAt = &exp
	}
	return a
}
