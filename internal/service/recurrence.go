package service

import (
	"time"

	"github.com/noah-isme/lesson-scheduler-api/internal/ledger"
	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
)

const (
	defaultSeriesHorizonDays    = 90
	defaultSeriesMaxOccurrences = 90
)

// RecurrenceExpander turns a base occurrence plus a repetition rule into
// the finite sequence of candidate occurrence intervals. Expansion is a
// pure function of its inputs; callers may re-run it freely.
type RecurrenceExpander struct {
	HorizonDays    int
	MaxOccurrences int
}

// NewRecurrenceExpander builds an expander with bounded defaults.
func NewRecurrenceExpander(horizonDays, maxOccurrences int) RecurrenceExpander {
	if horizonDays <= 0 {
		horizonDays = defaultSeriesHorizonDays
	}
	if maxOccurrences <= 0 {
		maxOccurrences = defaultSeriesMaxOccurrences
	}
	return RecurrenceExpander{HorizonDays: horizonDays, MaxOccurrences: maxOccurrences}
}

// Expand produces the occurrence intervals for the rule. The first element
// always equals the base interval itself; callers creating a series skip it
// because the base booking already exists. The sequence is capped by the
// rule's exclusive until instant when present, otherwise by the horizon,
// and always by the max occurrence count.
func (e RecurrenceExpander) Expand(start, end time.Time, rule models.RecurrenceRule) ([]ledger.Interval, error) {
	if !end.After(start) {
		return nil, appErrors.ErrInvalidInterval
	}
	if rule.Interval < 1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recurrence interval must be at least 1")
	}

	maxOcc := rule.MaxOccurrences
	if maxOcc <= 0 || maxOcc > e.MaxOccurrences {
		maxOcc = e.MaxOccurrences
	}
	limit := start.AddDate(0, 0, e.HorizonDays)
	if rule.Until != nil {
		limit = *rule.Until
	}

	duration := end.Sub(start)
	out := []ledger.Interval{{Start: start, End: end}}

	switch rule.Pattern {
	case models.RecurrenceDaily:
		for k := 1; len(out) < maxOcc; k++ {
			next := start.AddDate(0, 0, rule.Interval*k)
			if !next.Before(limit) {
				break
			}
			out = append(out, ledger.Interval{Start: next, End: next.Add(duration)})
		}

	case models.RecurrenceWeekly:
		weekdays := rule.Weekdays
		if len(weekdays) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "weekly recurrence requires a weekday set")
		}
		anchor := startOfWeek(start)
		for day := start.AddDate(0, 0, 1); day.Before(limit) && len(out) < maxOcc; day = day.AddDate(0, 0, 1) {
			weeks := int(day.Sub(anchor).Hours()) / (24 * 7)
			if weeks%rule.Interval != 0 {
				continue
			}
			if !containsWeekday(weekdays, day.Weekday()) {
				continue
			}
			out = append(out, ledger.Interval{Start: day, End: day.Add(duration)})
		}

	case models.RecurrenceMonthly:
		year, month, day := start.Date()
		hour, minute, sec := start.Clock()
		for k := 1; len(out) < maxOcc; k++ {
			next := time.Date(year, month+time.Month(rule.Interval*k), day, hour, minute, sec, start.Nanosecond(), start.Location())
			if next.Day() != day {
				// The target month has no such day (e.g. the 31st); the
				// occurrence is skipped rather than shifted.
				continue
			}
			if !next.Before(limit) {
				break
			}
			out = append(out, ledger.Interval{Start: next, End: next.Add(duration)})
		}

	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported recurrence pattern")
	}

	return out, nil
}

// startOfWeek returns the Monday of t's week, preserving the clock time.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func containsWeekday(set []time.Weekday, d time.Weekday) bool {
	for _, w := range set {
		if w == d {
			return true
		}
	}
	return false
}
