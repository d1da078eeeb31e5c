package dosing

import (
	"regexp"
	"strconv"
	"time"
)

var everyHoursPattern = regexp.MustCompile(`^every (\d+) hours?$`)

const (
	morningHour = 8
	eveningHour = 20
)

func everyHours(label string) (int, bool) {
	m := everyHoursPattern.FindStringSubmatch(normalize(label))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// NextDue computes the next scheduled administration time for a frequency
// relative to now. PRN medications are not scheduled and get now back as a
// sentinel; use IsPRN to tell the two apart.
func NextDue(frequency string, now time.Time) time.Time {
	if IsPRN(frequency) {
		return now
	}
	if n, ok := everyHours(frequency); ok {
		return now.Add(time.Duration(n) * time.Hour)
	}

	switch normalize(frequency) {
	case "once daily":
		return atHour(now, 1, morningHour)
	case "twice daily":
		evening := atHour(now, 0, eveningHour)
		if now.Before(evening) {
			return evening
		}
		return atHour(now, 1, morningHour)
	}

	s, _ := Lookup(frequency)
	return now.Add(s.RedoseInterval)
}

func atHour(t time.Time, dayOffset, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+dayOffset, hour, 0, 0, 0, t.Location())
}
