package rules

import (
	"fmt"
	"time"

	"github.com/ehr/safety/internal/domain/alert"
	"github.com/ehr/safety/internal/domain/clinical"
)

const (
	criticalVitalsThreshold = 4 * time.Hour
	routineVitalsThreshold  = 8 * time.Hour
	neverRecordedHours      = 24
	escalateAfterHours      = 12
)

// MissingVitalsCandidate flags a non-discharged patient whose latest vitals
// are older than the threshold for their condition, or who has none.
func MissingVitalsCandidate(p *clinical.Patient, latest *clinical.VitalsSnapshot, now time.Time) (*alert.Candidate, bool) {
	if p.Discharged {
		return nil, false
	}

	threshold := routineVitalsThreshold
	if p.IsCritical() {
		threshold = criticalVitalsThreshold
	}

	hours := neverRecordedHours
	msg := fmt.Sprintf("Vital signs overdue for %s - no vitals recorded", p.FullName())
	if latest != nil {
		age := now.Sub(latest.RecordedAt)
		if age <= threshold {
			return nil, false
		}
		hours = int(age.Hours())
		msg = fmt.Sprintf("Vital signs overdue for %s - last recorded %d hours ago", p.FullName(), hours)
	}

	priority := alert.PriorityMedium
	if p.IsCritical() || hours > escalateAfterHours {
		priority = alert.PriorityHigh
	}

	return &alert.Candidate{
		TenantID:   p.TenantID,
		PatientID:  p.ID,
		Kind:       alert.KindVitalSigns,
		SubjectKey: alert.SubjectVitalsOverdue,
		Message:    msg,
		Priority:   priority,
		ExpiresAt:  now.Add(vitalsExpiry),
	}, true
}
