package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
)

func TestRecurrenceExpandFirstElementIsBase(t *testing.T) {
	expander := NewRecurrenceExpander(90, 90)
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	out, err := expander.Expand(start, end, models.RecurrenceRule{
		Pattern:        models.RecurrenceDaily,
		Interval:       1,
		MaxOccurrences: 3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, start, out[0].Start)
	assert.Equal(t, end, out[0].End)
}

func TestRecurrenceExpandDailyWithInterval(t *testing.T) {
	expander := NewRecurrenceExpander(90, 90)
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	until := start.AddDate(0, 0, 7)

	out, err := expander.Expand(start, start.Add(time.Hour), models.RecurrenceRule{
		Pattern:  models.RecurrenceDaily,
		Interval: 2,
		Until:    &until,
	})
	require.NoError(t, err)
	// Days 0, 2, 4, 6; day 7 is at the exclusive boundary anyway.
	require.Len(t, out, 4)
	assert.Equal(t, start.AddDate(0, 0, 2), out[1].Start)
	assert.Equal(t, start.AddDate(0, 0, 6), out[3].Start)
	for _, iv := range out {
		assert.Equal(t, time.Hour, iv.Duration())
	}
}

func TestRecurrenceExpandWeeklyOnWeekdays(t *testing.T) {
	expander := NewRecurrenceExpander(90, 90)
	// A Monday.
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Monday, start.Weekday())
	until := start.AddDate(0, 0, 21)

	out, err := expander.Expand(start, start.Add(time.Hour), models.RecurrenceRule{
		Pattern:  models.RecurrenceWeekly,
		Interval: 1,
		Weekdays: []time.Weekday{time.Monday, time.Wednesday},
		Until:    &until,
	})
	require.NoError(t, err)
	// Base Monday plus Wed/Mon/Wed/Mon/Wed over three weeks.
	require.Len(t, out, 6)
	for _, iv := range out[1:] {
		day := iv.Start.Weekday()
		assert.True(t, day == time.Monday || day == time.Wednesday, "unexpected weekday %s", day)
	}
	assert.Equal(t, start.AddDate(0, 0, 2), out[1].Start)
	assert.Equal(t, start.AddDate(0, 0, 16), out[5].Start)
}

func TestRecurrenceExpandWeeklyRequiresWeekdays(t *testing.T) {
	expander := NewRecurrenceExpander(90, 90)
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)

	_, err := expander.Expand(start, start.Add(time.Hour), models.RecurrenceRule{
		Pattern:  models.RecurrenceWeekly,
		Interval: 1,
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRecurrenceExpandMonthlySkipsShortMonths(t *testing.T) {
	expander := NewRecurrenceExpander(90, 90)
	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

	out, err := expander.Expand(start, start.Add(time.Hour), models.RecurrenceRule{
		Pattern:  models.RecurrenceMonthly,
		Interval: 1,
	})
	require.NoError(t, err)
	// February has no 31st: the occurrence is dropped, not shifted. The
	// 90-day horizon ends before April.
	require.Len(t, out, 2)
	assert.Equal(t, time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC), out[1].Start)
}

func TestRecurrenceExpandHorizonCapsOpenEndedRules(t *testing.T) {
	expander := NewRecurrenceExpander(90, 90)
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)

	out, err := expander.Expand(start, start.Add(time.Hour), models.RecurrenceRule{
		Pattern:  models.RecurrenceDaily,
		Interval: 1,
	})
	require.NoError(t, err)
	assert.Len(t, out, 90)
	last := out[len(out)-1]
	assert.True(t, last.Start.Before(start.AddDate(0, 0, 90)))
}

func TestRecurrenceExpandRejectsBadInput(t *testing.T) {
	expander := NewRecurrenceExpander(90, 90)
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)

	_, err := expander.Expand(start, start, models.RecurrenceRule{
		Pattern:  models.RecurrenceDaily,
		Interval: 1,
	})
	require.ErrorIs(t, err, appErrors.ErrInvalidInterval)

	_, err = expander.Expand(start, start.Add(time.Hour), models.RecurrenceRule{
		Pattern:  models.RecurrenceDaily,
		Interval: 0,
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = expander.Expand(start, start.Add(time.Hour), models.RecurrenceRule{
		Pattern:  "YEARLY",
		Interval: 1,
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}
