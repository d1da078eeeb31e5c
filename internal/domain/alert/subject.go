package alert

import (
	"strings"
	"unicode"
)

// Vital categories double as subject keys for vital-range alerts.
const (
	VitalTemperature      = "Temperature"
	VitalBloodPressure    = "Blood Pressure"
	VitalHeartRate        = "Heart Rate"
	VitalOxygenSaturation = "Oxygen Saturation"
	VitalRespiratoryRate  = "Respiratory Rate"
)

var vitalCategories = []string{
	VitalTemperature,
	VitalBloodPressure,
	VitalHeartRate,
	VitalOxygenSaturation,
	VitalRespiratoryRate,
}

const missingVitalsPrefix = "vital signs overdue"

// SubjectKeyFromMessage recovers the grouping key of an alert stored without
// one. Medication names are the words before the dosage (the first token
// starting with a digit) or before "is"; vitals are matched by category name.
func SubjectKeyFromMessage(kind Kind, message string) string {
	switch kind {
	case KindMedicationDue:
		msg := strings.TrimPrefix(message, overduePrefix)
		var name []string
		for _, tok := range strings.Fields(msg) {
			if tok == "is" || unicode.IsDigit([]rune(tok)[0]) {
				break
			}
			name = append(name, tok)
		}
		return strings.Join(name, " ")
	case KindVitalSigns:
		if strings.HasPrefix(strings.ToLower(message), missingVitalsPrefix) {
			return SubjectVitalsOverdue
		}
		for _, cat := range vitalCategories {
			if strings.HasPrefix(message, cat) {
				return cat
			}
		}
	}
	return message
}
