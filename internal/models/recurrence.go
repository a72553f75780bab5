package models

import "time"

// RecurrencePattern enumerates supported repetition cadences.
type RecurrencePattern string

const (
	RecurrenceDaily   RecurrencePattern = "DAILY"
	RecurrenceWeekly  RecurrencePattern = "WEEKLY"
	RecurrenceMonthly RecurrencePattern = "MONTHLY"
)

// RecurrenceRule describes how a base booking repeats. It is tied 1:1 to
// the series it spawned via the bookings' series id.
type RecurrenceRule struct {
	Pattern        RecurrencePattern `json:"pattern"`
	Interval       int               `json:"interval"`
	Weekdays       []time.Weekday    `json:"weekdays,omitempty"`
	Until          *time.Time        `json:"until,omitempty"`
	MaxOccurrences int               `json:"max_occurrences,omitempty"`
}

// HasWeekday reports whether the rule's weekday set contains d.
func (r RecurrenceRule) HasWeekday(d time.Weekday) bool {
	for _, w := range r.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}
