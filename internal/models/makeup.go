package models

import "time"

// MakeupStatus represents the lifecycle of a makeup credit.
type MakeupStatus string

const (
	MakeupStatusPending   MakeupStatus = "PENDING"
	MakeupStatusScheduled MakeupStatus = "SCHEDULED"
	MakeupStatusCompleted MakeupStatus = "COMPLETED"
	MakeupStatusExpired   MakeupStatus = "EXPIRED"
)

// MakeupCredit tracks the eligibility window opened by an approved
// cancellation: the student may reschedule the lost lesson until the
// credit expires.
type MakeupCredit struct {
	ID                   string       `db:"id" json:"id"`
	OriginalBookingID    string       `db:"original_booking_id" json:"original_booking_id"`
	StudentID            string       `db:"student_id" json:"student_id"`
	EligibleFrom         time.Time    `db:"eligible_from" json:"eligible_from"`
	ExpiresAt            time.Time    `db:"expires_at" json:"expires_at"`
	Status               MakeupStatus `db:"status" json:"status"`
	RescheduledBookingID *string      `db:"rescheduled_booking_id" json:"rescheduled_booking_id,omitempty"`
	ExtendedBy           *string      `db:"extended_by" json:"extended_by,omitempty"`
	ExtendedAt           *time.Time   `db:"extended_at" json:"extended_at,omitempty"`
	CreatedAt            time.Time    `db:"created_at" json:"created_at"`
}

// MakeupFilter describes query params for listing makeup credits.
type MakeupFilter struct {
	StudentID string
	Status    []MakeupStatus
	Limit     int
	Offset    int
}
