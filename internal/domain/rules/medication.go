package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ehr/safety/internal/domain/alert"
	"github.com/ehr/safety/internal/domain/clinical"
	"github.com/ehr/safety/internal/domain/dosing"
)

const (
	dueSoonMinutes   = 60
	overdueExpiry    = 12 * time.Hour
	dueSoonExpiry    = 2 * time.Hour
	defaultDueWindow = 60 * time.Minute
)

// MedicationCandidate evaluates one schedule entry. Entries that are PRN,
// inactive, unscheduled or due later than window produce nothing.
func MedicationCandidate(m *clinical.MedicationEntry, now time.Time, window time.Duration) (*alert.Candidate, bool) {
	if !m.IsActive() || m.IsPRN() || dosing.IsPRN(m.Frequency) || m.NextDue == nil {
		return nil, false
	}

	until := m.NextDue.Sub(now)
	overdue := until <= 0
	if !overdue && until > window {
		return nil, false
	}

	minutes := int(math.Round(until.Minutes()))
	dueSoon := !overdue && minutes <= dueSoonMinutes
	label := strings.TrimSpace(m.Name + " " + m.Dosage)

	c := &alert.Candidate{
		TenantID:   m.TenantID,
		PatientID:  m.PatientID,
		Kind:       alert.KindMedicationDue,
		SubjectKey: m.Name,
		Overdue:    overdue,
	}
	switch {
	case overdue:
		c.Message = fmt.Sprintf("OVERDUE: %s is overdue by %d minutes", label, abs(minutes))
		c.Priority = alert.PriorityCritical
		c.ExpiresAt = now.Add(overdueExpiry)
	case minutes == 0:
		c.Message = fmt.Sprintf("%s is due now", label)
	default:
		c.Message = fmt.Sprintf("%s is due in %d minutes", label, minutes)
	}
	if !overdue {
		c.Priority = alert.PriorityMedium
		if dueSoon {
			c.Priority = alert.PriorityHigh
		}
		c.ExpiresAt = now.Add(dueSoonExpiry)
	}
	return c, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
