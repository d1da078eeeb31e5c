package bcma

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/safety/internal/domain/clinical"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

func later(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func testPatient() *clinical.Patient {
	return &clinical.Patient{
		ID:         uuid.MustParse("6f1c2d4e-0000-4000-8000-000000000001"),
		TenantID:   "general",
		Identifier: "100234",
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Condition:  clinical.ConditionStable,
	}
}

func testMedication(p *clinical.Patient, frequency string) *clinical.MedicationEntry {
	return &clinical.MedicationEntry{
		ID:               uuid.MustParse("a1b2c3d4-e5f6-4789-8abc-def012345678"),
		TenantID:         p.TenantID,
		PatientID:        p.ID,
		Name:             "Metoprolol",
		Dosage:           "25 mg",
		Route:            "PO",
		Frequency:        frequency,
		Status:           clinical.MedicationActive,
		Category:         clinical.CategoryScheduled,
		LastAdministered: ago(13 * time.Hour),
		NextDue:          ago(time.Hour),
	}
}

func TestMedicationBarcode(t *testing.T) {
	id := uuid.MustParse("a1b2c3d4-e5f6-4789-8abc-def012345678")
	if got := MedicationBarcode(id); got != "MA1B2C3D4" {
		t.Errorf("expected MA1B2C3D4, got %s", got)
	}
}

func TestVerify_AcceptedTokenForms(t *testing.T) {
	p := testPatient()
	m := testMedication(p, "Every 12 hours")

	patientTokens := []string{"100234", "PT100234", "PAT-100234", "MRN100234", p.ID.String(), " pt100234 "}
	for _, tok := range patientTokens {
		res := Verify(VerifyInput{PatientToken: tok, MedicationToken: m.ID.String(), Patient: p, Medication: m, Now: testNow})
		if !res.Checks.Patient {
			t.Errorf("patient token %q rejected: %v", tok, res.Errors)
		}
	}

	medTokens := []string{m.ID.String(), "MA1B2C3D4", "ma1b2c3d4", "MED-" + m.ID.String()}
	for _, tok := range medTokens {
		res := Verify(VerifyInput{PatientToken: "PT100234", MedicationToken: tok, Patient: p, Medication: m, Now: testNow})
		if !res.Checks.Medication {
			t.Errorf("medication token %q rejected: %v", tok, res.Errors)
		}
		if !res.IsValid {
			t.Errorf("token %q: expected valid result, got %+v", tok, res)
		}
	}
}

func TestVerify_WrongPatient(t *testing.T) {
	p := testPatient()
	m := testMedication(p, "Every 12 hours")

	res := Verify(VerifyInput{PatientToken: "PT999999", MedicationToken: "MA1B2C3D4", Patient: p, Medication: m, Now: testNow})
	if res.Checks.Patient {
		t.Error("expected patient check to fail")
	}
	if !res.Checks.Medication {
		t.Error("expected medication check to pass")
	}
	if res.IsValid {
		t.Error("expected invalid result")
	}
	if len(res.Errors) != 1 || res.Errors[0] != "Patient barcode does not match expected patient" {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
	if !res.IdentityMismatch() {
		t.Error("expected identity mismatch")
	}
}

func TestVerify_WrongMedication(t *testing.T) {
	p := testPatient()
	m := testMedication(p, "Every 12 hours")

	res := Verify(VerifyInput{PatientToken: "PT100234", MedicationToken: "M00000000", Patient: p, Medication: m, Now: testNow})
	if res.Checks.Medication || res.Checks.Dose || res.Checks.Route {
		t.Errorf("expected medication, dose and route checks to fail: %+v", res.Checks)
	}
	if res.Errors[0] != "Medication barcode does not match expected medication" {
		t.Errorf("unexpected error: %s", res.Errors[0])
	}
}

func TestVerify_MedicationForAnotherPatient(t *testing.T) {
	p := testPatient()
	m := testMedication(p, "Every 12 hours")
	m.PatientID = uuid.New()

	res := Verify(VerifyInput{PatientToken: "PT100234", MedicationToken: "MA1B2C3D4", Patient: p, Medication: m, Now: testNow})
	if res.Checks.Medication || res.IsValid {
		t.Errorf("expected rejection, got %+v", res)
	}
}

func TestVerify_MinimumInterval(t *testing.T) {
	p := testPatient()
	m := testMedication(p, "Every 8 hours")
	m.LastAdministered = ago(2 * time.Hour)
	m.NextDue = later(6 * time.Hour)

	res := Verify(VerifyInput{PatientToken: "PT100234", MedicationToken: "MA1B2C3D4", Patient: p, Medication: m, Now: testNow})
	if res.Checks.Timing || res.IsValid {
		t.Fatalf("expected timing failure, got %+v", res)
	}
	if !res.TooSoon() {
		t.Error("expected hard timing error")
	}
	if len(res.Errors) != 1 || res.Errors[0] != "Too soon since last dose. Wait 4 more hours." {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
}

func TestVerify_RemainingHoursRoundUp(t *testing.T) {
	p := testPatient()
	m := testMedication(p, "Every 8 hours")
	m.LastAdministered = ago(2*time.Hour + 30*time.Minute)
	m.NextDue = later(5*time.Hour + 30*time.Minute)

	res := Verify(VerifyInput{PatientToken: "PT100234", MedicationToken: "MA1B2C3D4", Patient: p, Medication: m, Now: testNow})
	if res.Errors[0] != "Too soon since last dose. Wait 4 more hours." {
		t.Errorf("unexpected error: %s", res.Errors[0])
	}
}

func TestVerify_EarlyIsWarningOnly(t *testing.T) {
	p := testPatient()
	m := testMedication(p, "Every 12 hours")
	m.LastAdministered = ago(11 * time.Hour)
	m.NextDue = later(45 * time.Minute)

	res := Verify(VerifyInput{PatientToken: "PT100234", MedicationToken: "MA1B2C3D4", Patient: p, Medication: m, Now: testNow})
	if len(res.Errors) != 0 {
		t.Errorf("expected no errors, got %v", res.Errors)
	}
	if res.TooSoon() {
		t.Error("early administration must not be a hard error")
	}
	if res.Checks.Timing || res.IsValid {
		t.Error("expected timing check false for early administration")
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "Medication is due in 45 minutes, administering early" {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestVerify_WithinEarlyWindow(t *testing.T) {
	p := testPatient()
	m := testMedication(p, "Every 12 hours")
	m.LastAdministered = ago(12 * time.Hour)
	m.NextDue = later(20 * time.Minute)

	res := Verify(VerifyInput{PatientToken: "PT100234", MedicationToken: "MA1B2C3D4", Patient: p, Medication: m, Now: testNow})
	if !res.IsValid || len(res.Warnings) != 0 {
		t.Errorf("expected clean pass inside 30 minute window, got %+v", res)
	}
}

func TestVerify_PRNAndUnscheduledPassTiming(t *testing.T) {
	p := testPatient()

	prn := testMedication(p, "PRN")
	prn.Category = clinical.CategoryPRN
	prn.LastAdministered = ago(10 * time.Minute)
	prn.NextDue = later(time.Hour)

	unscheduled := testMedication(p, "Every 8 hours")
	unscheduled.LastAdministered = ago(10 * time.Minute)
	unscheduled.NextDue = nil

	for _, m := range []*clinical.MedicationEntry{prn, unscheduled} {
		res := Verify(VerifyInput{PatientToken: "PT100234", MedicationToken: "MA1B2C3D4", Patient: p, Medication: m, Now: testNow})
		if !res.Checks.Timing || !res.IsValid {
			t.Errorf("%s: expected timing pass, got %+v", m.Frequency, res)
		}
	}
}

func TestVerify_UnknownFrequencyUsesDefaultMinimum(t *testing.T) {
	p := testPatient()
	m := testMedication(p, "with meals")
	m.LastAdministered = ago(time.Hour)
	m.NextDue = later(time.Hour)

	res := Verify(VerifyInput{PatientToken: "PT100234", MedicationToken: "MA1B2C3D4", Patient: p, Medication: m, Now: testNow})
	if !res.TooSoon() {
		t.Fatal("expected fallback minimum interval to apply")
	}
	if !strings.Contains(res.Errors[0], "Wait 5 more hours") {
		t.Errorf("unexpected error: %s", res.Errors[0])
	}
}
