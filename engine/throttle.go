package engine

import (
	"time"

	"leadflow/models"
)

// SendWindow is a consistent snapshot of an organization's recent send
// history, supplied by the caller. The policy itself keeps no state.
type SendWindow struct {
	// Sends already scheduled or executed on the candidate's local calendar day
	SentToday int
	// Sends in the trailing 60 minutes before the candidate time
	SentLastHour int
	// Oldest send inside that trailing window, nil when SentLastHour is 0
	OldestInHour *time.Time
}

// NextAllowedSlot returns the earliest instant at or after candidate that
// satisfies the organization's pacing rules: weekend skip, daily limit and
// the trailing-hour throttle, applied in that order. Never returns a time
// before candidate.
//
// The daily and hourly counts are read-then-decide under concurrent workers,
// so a slight overshoot of the configured limits is accepted.
func NextAllowedSlot(settings models.TemplateSettings, loc *time.Location, window SendWindow, candidate time.Time) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	slot := candidate.In(loc)

	if settings.SkipWeekends {
		slot = skipWeekend(slot)
	}

	if settings.DailyLimit > 0 && window.SentToday >= settings.DailyLimit {
		// Start of the next local day, keeping the local wall-clock time
		slot = slot.AddDate(0, 0, 1)
		if settings.SkipWeekends {
			slot = skipWeekend(slot)
		}
	}

	if settings.Throttle.Enabled && settings.Throttle.MaxPerHour > 0 &&
		window.SentLastHour >= settings.Throttle.MaxPerHour && window.OldestInHour != nil {
		throttled := window.OldestInHour.Add(time.Hour)
		if throttled.After(slot) {
			slot = throttled.In(loc)
			if settings.SkipWeekends {
				slot = skipWeekend(slot)
			}
		}
	}

	if slot.Before(candidate) {
		return candidate
	}
	return slot
}

// skipWeekend advances a weekend time to the following Monday at the same
// local wall-clock time.
func skipWeekend(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, 2)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

// LoadLocation resolves an organization timezone, falling back to UTC for
// unknown names so a bad row never halts the sweep.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
