package dosing

import (
	"strings"
	"time"
)

// Schedule describes how often a medication is given and how close together
// two doses may safely be.
type Schedule struct {
	Label           string
	RedoseInterval  time.Duration
	MinimumInterval time.Duration
}

// Fallback applies to any frequency label missing from the table.
var Fallback = Schedule{
	Label:           "unknown",
	RedoseInterval:  24 * time.Hour,
	MinimumInterval: 6 * time.Hour,
}

var schedules = map[string]Schedule{
	"once daily":        {Label: "Once daily", RedoseInterval: 24 * time.Hour, MinimumInterval: 20 * time.Hour},
	"twice daily":       {Label: "Twice daily", RedoseInterval: 12 * time.Hour, MinimumInterval: 10 * time.Hour},
	"three times daily": {Label: "Three times daily", RedoseInterval: 8 * time.Hour, MinimumInterval: 6 * time.Hour},
	"four times daily":  {Label: "Four times daily", RedoseInterval: 6 * time.Hour, MinimumInterval: 4 * time.Hour},
	"every 4 hours":     {Label: "Every 4 hours", RedoseInterval: 4 * time.Hour, MinimumInterval: 3 * time.Hour},
	"every 6 hours":     {Label: "Every 6 hours", RedoseInterval: 6 * time.Hour, MinimumInterval: 4 * time.Hour},
	"every 8 hours":     {Label: "Every 8 hours", RedoseInterval: 8 * time.Hour, MinimumInterval: 6 * time.Hour},
	"every 12 hours":    {Label: "Every 12 hours", RedoseInterval: 12 * time.Hour, MinimumInterval: 10 * time.Hour},
}

var prnLabels = map[string]bool{
	"prn":       true,
	"as needed": true,
}

func normalize(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// Lookup returns the schedule for a frequency label. The boolean is false when
// the label is not in the table and Fallback was returned instead.
func Lookup(label string) (Schedule, bool) {
	s, ok := schedules[normalize(label)]
	if !ok {
		return Fallback, false
	}
	return s, true
}

// MinimumInterval is shorthand for Lookup(label).MinimumInterval.
func MinimumInterval(label string) time.Duration {
	s, _ := Lookup(label)
	return s.MinimumInterval
}

// IsPRN reports whether the label denotes an as-needed medication.
func IsPRN(label string) bool {
	return prnLabels[normalize(label)]
}

// Known reports whether a frequency label is either scheduled in the table,
// an every-N-hours form or PRN.
func Known(label string) bool {
	if IsPRN(label) {
		return true
	}
	if _, ok := schedules[normalize(label)]; ok {
		return true
	}
	_, ok := everyHours(label)
	return ok
}
