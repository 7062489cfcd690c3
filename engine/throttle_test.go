package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func TestNextAllowedSlotNoRules(t *testing.T) {
	candidate := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	slot := NextAllowedSlot(models.TemplateSettings{}, time.UTC, SendWindow{}, candidate)
	require.True(t, slot.Equal(candidate))
}

func TestNextAllowedSlotSkipsWeekend(t *testing.T) {
	settings := models.TemplateSettings{SkipWeekends: true}

	// Saturday 10:00 moves to Monday at the same wall-clock time
	saturday := time.Date(2026, 9, 5, 10, 0, 0, 0, time.UTC)
	slot := NextAllowedSlot(settings, time.UTC, SendWindow{}, saturday)
	require.Equal(t, time.Monday, slot.Weekday())
	require.True(t, slot.Equal(time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)))

	// Sunday moves one day
	sunday := time.Date(2026, 9, 6, 10, 0, 0, 0, time.UTC)
	slot = NextAllowedSlot(settings, time.UTC, SendWindow{}, sunday)
	require.True(t, slot.Equal(time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)))

	// Weekdays are untouched
	tuesday := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	slot = NextAllowedSlot(settings, time.UTC, SendWindow{}, tuesday)
	require.True(t, slot.Equal(tuesday))
}

func TestNextAllowedSlotDailyLimit(t *testing.T) {
	settings := models.TemplateSettings{DailyLimit: 50}
	candidate := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC) // Tuesday

	// Under the limit the candidate stands
	slot := NextAllowedSlot(settings, time.UTC, SendWindow{SentToday: 49}, candidate)
	require.True(t, slot.Equal(candidate))

	// At the limit the slot moves to the next day, same wall-clock time
	slot = NextAllowedSlot(settings, time.UTC, SendWindow{SentToday: 50}, candidate)
	require.True(t, slot.Equal(time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC)))
}

func TestNextAllowedSlotDailyLimitRespectsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	settings := models.TemplateSettings{DailyLimit: 1}
	// Tuesday 14:00 in New York
	candidate := time.Date(2026, 9, 1, 14, 0, 0, 0, loc)

	slot := NextAllowedSlot(settings, loc, SendWindow{SentToday: 1}, candidate)
	require.True(t, slot.Equal(time.Date(2026, 9, 2, 14, 0, 0, 0, loc)))
}

func TestNextAllowedSlotDailyLimitSkipsIntoMonday(t *testing.T) {
	settings := models.TemplateSettings{SkipWeekends: true, DailyLimit: 10}
	friday := time.Date(2026, 9, 4, 15, 0, 0, 0, time.UTC)

	slot := NextAllowedSlot(settings, time.UTC, SendWindow{SentToday: 10}, friday)
	require.Equal(t, time.Monday, slot.Weekday())
	require.True(t, slot.Equal(time.Date(2026, 9, 7, 15, 0, 0, 0, time.UTC)))
}

func TestNextAllowedSlotHourlyThrottle(t *testing.T) {
	settings := models.TemplateSettings{
		Throttle: models.ThrottleSettings{Enabled: true, MaxPerHour: 10},
	}
	candidate := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	oldest := candidate.Add(-40 * time.Minute)

	slot := NextAllowedSlot(settings, time.UTC, SendWindow{
		SentLastHour: 10,
		OldestInHour: &oldest,
	}, candidate)
	require.True(t, slot.Equal(oldest.Add(time.Hour)))

	// Under the cap the candidate stands
	slot = NextAllowedSlot(settings, time.UTC, SendWindow{
		SentLastHour: 9,
		OldestInHour: &oldest,
	}, candidate)
	require.True(t, slot.Equal(candidate))
}

func TestNextAllowedSlotNeverBeforeCandidate(t *testing.T) {
	settings := models.TemplateSettings{
		Throttle: models.ThrottleSettings{Enabled: true, MaxPerHour: 5},
	}
	candidate := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	// The window drains just before the candidate; the slot must not regress.
	oldest := candidate.Add(-time.Hour + time.Minute)

	slot := NextAllowedSlot(settings, time.UTC, SendWindow{
		SentLastHour: 5,
		OldestInHour: &oldest,
	}, candidate)
	require.False(t, slot.Before(candidate))
}

func TestLoadLocation(t *testing.T) {
	require.Equal(t, time.UTC, LoadLocation(""))
	require.Equal(t, time.UTC, LoadLocation("Not/AZone"))

	loc := LoadLocation("Europe/Berlin")
	require.Equal(t, "Europe/Berlin", loc.String())
}
