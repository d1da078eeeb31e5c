package bcma

import (
	"fmt"
	"math"
	"time"

	"github.com/ehr/safety/internal/domain/clinical"
	"github.com/ehr/safety/internal/domain/dosing"
)

const earlyWindow = 30 * time.Minute

const (
	msgPatientMismatch    = "Patient barcode does not match expected patient"
	msgMedicationMismatch = "Medication barcode does not match expected medication"
	msgWrongPatient       = "Medication is not prescribed for this patient"
)

// VerifyInput is one scan event together with the patient and medication the
// operator believes they are administering.
type VerifyInput struct {
	PatientToken    string
	MedicationToken string
	Patient         *clinical.Patient
	Medication      *clinical.MedicationEntry
	Now             time.Time
}

// Verify runs the identity and timing checks for a scan. It has no side
// effects.
func Verify(in VerifyInput) *Result {
	r := &Result{Errors: []string{}, Warnings: []string{}}

	r.Checks.Patient = matchToken(in.PatientToken, PatientTokens(in.Patient))
	if !r.Checks.Patient {
		r.Errors = append(r.Errors, msgPatientMismatch)
	}

	r.Checks.Medication = matchToken(in.MedicationToken, MedicationTokens(in.Medication))
	if !r.Checks.Medication {
		r.Errors = append(r.Errors, msgMedicationMismatch)
	} else if in.Medication.PatientID != in.Patient.ID {
		r.Checks.Medication = false
		r.Errors = append(r.Errors, msgWrongPatient)
	}

	r.Checks.Dose = r.Checks.Medication
	r.Checks.Route = r.Checks.Medication
	r.Checks.Timing = checkTiming(in.Medication, in.Now, r)

	r.IsValid = r.Checks.All()
	return r
}

func checkTiming(m *clinical.MedicationEntry, now time.Time, r *Result) bool {
	if m.IsPRN() || dosing.IsPRN(m.Frequency) || m.NextDue == nil {
		return true
	}

	ok := true
	if m.LastAdministered != nil {
		minimum := dosing.MinimumInterval(m.Frequency)
		if elapsed := now.Sub(*m.LastAdministered); elapsed < minimum {
			wait := int(math.Ceil((minimum - elapsed).Hours()))
			r.Errors = append(r.Errors, fmt.Sprintf("Too soon since last dose. Wait %d more hours.", wait))
			r.tooSoon = true
			ok = false
		}
	}

	if earliest := m.NextDue.Add(-earlyWindow); now.Before(earliest) {
		minutes := int(math.Ceil(m.NextDue.Sub(now).Minutes()))
		r.Warnings = append(r.Warnings, fmt.Sprintf("Medication is due in %d minutes, administering early", minutes))
		ok = false
	}
	return ok
}
