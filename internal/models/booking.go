package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// BookingStatus represents lifecycle phases for a lesson booking.
type BookingStatus string

const (
	BookingStatusScheduled BookingStatus = "SCHEDULED"
	BookingStatusOngoing   BookingStatus = "ONGOING"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// Booking is a single scheduled lesson occurrence bound to a tutor, an
// optional room, and one or more students over a half-open UTC interval.
type Booking struct {
	ID              string         `db:"id" json:"id"`
	SubjectTag      string         `db:"subject_tag" json:"subject_tag"`
	LevelTag        string         `db:"level_tag" json:"level_tag,omitempty"`
	TutorID         string         `db:"tutor_id" json:"tutor_id"`
	RoomID          *string        `db:"room_id" json:"room_id,omitempty"`
	StudentIDs      pq.StringArray `db:"student_ids" json:"student_ids"`
	StartTime       time.Time      `db:"start_time" json:"start_time"`
	EndTime         time.Time      `db:"end_time" json:"end_time"`
	IsGroup         bool           `db:"is_group" json:"is_group"`
	MaxParticipants int            `db:"max_participants" json:"max_participants,omitempty"`
	Status          BookingStatus  `db:"status" json:"status"`
	SeriesID        *string        `db:"series_id" json:"series_id,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// ResourceIDs returns every resource the booking occupies: the tutor, the
// room when one is assigned, and every enrolled student.
func (b *Booking) ResourceIDs() []string {
	ids := make([]string, 0, len(b.StudentIDs)+2)
	ids = append(ids, b.TutorID)
	if b.RoomID != nil && *b.RoomID != "" {
		ids = append(ids, *b.RoomID)
	}
	ids = append(ids, b.StudentIDs...)
	return ids
}

// HasStudent reports whether the student participates in the booking.
func (b *Booking) HasStudent(studentID string) bool {
	for _, id := range b.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// BookingFilter describes query params for listing bookings.
type BookingFilter struct {
	TutorID   string
	RoomID    string
	StudentID string
	SeriesID  string
	Status    []BookingStatus
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

// ConflictDimension names the resource axis a conflict was detected on.
type ConflictDimension string

const (
	ConflictDimensionTutor   ConflictDimension = "tutor"
	ConflictDimensionRoom    ConflictDimension = "room"
	ConflictDimensionStudent ConflictDimension = "student"
)

// BookingConflict describes an existing booking that collides with a
// proposed interval on a particular resource.
type BookingConflict struct {
	BookingID  string            `json:"booking_id"`
	ResourceID string            `json:"resource_id"`
	Dimension  ConflictDimension `json:"dimension"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
}

// BookingConflictError is returned when a proposed booking collides with
// existing holds. It carries the colliding bookings so callers can render
// actionable messages.
type BookingConflictError struct {
	Message   string            `json:"message"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Conflicts []BookingConflict `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *BookingConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("interval [%s, %s) conflicts with %d booking(s)",
		e.StartTime.Format(time.RFC3339), e.EndTime.Format(time.RFC3339), len(e.Conflicts))
}

// Pagination describes page metadata in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
