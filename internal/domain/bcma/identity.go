package bcma

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/safety/internal/domain/clinical"
)

const (
	patientBarcodePrefix    = "PT"
	medicationBarcodePrefix = "M"
)

// Prefixes printed on wristbands and labels by earlier label generators.
var (
	legacyPatientPrefixes    = []string{"PAT-", "MRN"}
	legacyMedicationPrefixes = []string{"MED-"}
)

// PatientBarcode is the short wristband barcode for a patient.
func PatientBarcode(p *clinical.Patient) string {
	return patientBarcodePrefix + p.Identifier
}

// MedicationBarcode is the short label barcode for a medication: "M" followed
// by the first eight hex digits of its id.
func MedicationBarcode(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return medicationBarcodePrefix + strings.ToUpper(hex[:8])
}

// PatientTokens lists every scanned form accepted for a patient.
func PatientTokens(p *clinical.Patient) []string {
	tokens := []string{p.ID.String()}
	if p.Identifier == "" {
		return tokens
	}
	tokens = append(tokens, p.Identifier, PatientBarcode(p))
	for _, prefix := range legacyPatientPrefixes {
		tokens = append(tokens, prefix+p.Identifier)
	}
	return tokens
}

// MedicationTokens lists every scanned form accepted for a medication.
func MedicationTokens(m *clinical.MedicationEntry) []string {
	id := m.ID.String()
	tokens := []string{id, MedicationBarcode(m.ID)}
	for _, prefix := range legacyMedicationPrefixes {
		tokens = append(tokens, prefix+id)
	}
	return tokens
}

func matchToken(scanned string, accepted []string) bool {
	scanned = strings.TrimSpace(scanned)
	if scanned == "" {
		return false
	}
	for _, t := range accepted {
		if strings.EqualFold(scanned, t) {
			return true
		}
	}
	return false
}

// patientIdentifierFromToken strips the known prefixes from a scanned
// wristband token.
func patientIdentifierFromToken(token string) string {
	token = strings.TrimSpace(token)
	for _, prefix := range append([]string{patientBarcodePrefix}, legacyPatientPrefixes...) {
		if len(token) > len(prefix) && strings.EqualFold(token[:len(prefix)], prefix) {
			return token[len(prefix):]
		}
	}
	return token
}
