package rules

import (
	"fmt"
	"time"

	"github.com/ehr/safety/internal/domain/alert"
	"github.com/ehr/safety/internal/domain/clinical"
)

const (
	defaultVitalsLookback = 4 * time.Hour
	vitalsExpiry          = 24 * time.Hour
)

type vitalFinding struct {
	category string
	message  string
	critical bool
}

func temperature(t float64) *vitalFinding {
	if t >= 36.0 && t <= 38.0 {
		return nil
	}
	label := "Fever"
	if t < 36.0 {
		label = "Hypothermia"
	}
	return &vitalFinding{
		category: alert.VitalTemperature,
		message:  fmt.Sprintf("Temperature %.1f°C - %s", t, label),
		critical: t < 35.5 || t > 39.0,
	}
}

func bloodPressure(sys, dia int) *vitalFinding {
	crisis := sys > 180 || dia > 110
	if !crisis && sys >= 90 && dia >= 60 {
		return nil
	}
	label := "Hypotension"
	if crisis {
		label = "Hypertensive Crisis"
	}
	return &vitalFinding{
		category: alert.VitalBloodPressure,
		message:  fmt.Sprintf("Blood Pressure %d/%d mmHg - %s", sys, dia, label),
		critical: crisis,
	}
}

func heartRate(hr int) *vitalFinding {
	if hr >= 50 && hr <= 120 {
		return nil
	}
	label := "Tachycardia"
	if hr < 50 {
		label = "Bradycardia"
	}
	return &vitalFinding{
		category: alert.VitalHeartRate,
		message:  fmt.Sprintf("Heart Rate %d bpm - %s", hr, label),
		critical: hr < 40 || hr > 150,
	}
}

func oxygenSaturation(spo2 int) *vitalFinding {
	if spo2 >= 95 {
		return nil
	}
	return &vitalFinding{
		category: alert.VitalOxygenSaturation,
		message:  fmt.Sprintf("Oxygen Saturation %d%% - Hypoxemia", spo2),
		critical: spo2 < 90,
	}
}

func respiratoryRate(rr int) *vitalFinding {
	if rr >= 12 && rr <= 24 {
		return nil
	}
	label := "Tachypnea"
	if rr < 12 {
		label = "Bradypnea"
	}
	return &vitalFinding{
		category: alert.VitalRespiratoryRate,
		message:  fmt.Sprintf("Respiratory Rate %d/min - %s", rr, label),
		critical: rr < 8 || rr > 30,
	}
}

// VitalRangeCandidates checks each captured reading of a snapshot recorded
// within lookback of now. Older snapshots produce nothing.
func VitalRangeCandidates(v *clinical.VitalsSnapshot, now time.Time, lookback time.Duration) []*alert.Candidate {
	if v == nil || now.Sub(v.RecordedAt) > lookback {
		return nil
	}

	var findings []*vitalFinding
	if v.Temperature != nil {
		findings = append(findings, temperature(*v.Temperature))
	}
	if v.Systolic != nil && v.Diastolic != nil {
		findings = append(findings, bloodPressure(*v.Systolic, *v.Diastolic))
	}
	if v.HeartRate != nil {
		findings = append(findings, heartRate(*v.HeartRate))
	}
	if v.OxygenSaturation != nil {
		findings = append(findings, oxygenSaturation(*v.OxygenSaturation))
	}
	if v.RespiratoryRate != nil {
		findings = append(findings, respiratoryRate(*v.RespiratoryRate))
	}

	var out []*alert.Candidate
	for _, f := range findings {
		if f == nil {
			continue
		}
		p := alert.PriorityHigh
		if f.critical {
			p = alert.PriorityCritical
		}
		out = append(out, &alert.Candidate{
			TenantID:   v.TenantID,
			PatientID:  v.PatientID,
			Kind:       alert.KindVitalSigns,
			SubjectKey: f.category,
			Message:    f.message,
			Priority:   p,
			ExpiresAt:  now.Add(vitalsExpiry),
		})
	}
	return out
}
