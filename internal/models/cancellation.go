package models

import "time"

// CancellationStatus represents the review state of a cancellation request.
type CancellationStatus string

const (
	CancellationStatusPending  CancellationStatus = "PENDING"
	CancellationStatusApproved CancellationStatus = "APPROVED"
	CancellationStatusRejected CancellationStatus = "REJECTED"
)

// CancellationRequest captures a student's request to cancel a booking and
// the admin review outcome. Terminal once approved or rejected.
type CancellationRequest struct {
	ID                   string             `db:"id" json:"id"`
	BookingID            string             `db:"booking_id" json:"booking_id"`
	RequestedBy          string             `db:"requested_by" json:"requested_by"`
	Reason               string             `db:"reason" json:"reason"`
	RequestedAt          time.Time          `db:"requested_at" json:"requested_at"`
	Status               CancellationStatus `db:"status" json:"status"`
	ReviewedBy           *string            `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time         `db:"reviewed_at" json:"reviewed_at,omitempty"`
	AdminComment         *string            `db:"admin_comment" json:"admin_comment,omitempty"`
	RescheduledBookingID *string            `db:"rescheduled_booking_id" json:"rescheduled_booking_id,omitempty"`
}

// CancellationFilter describes query params for listing requests.
type CancellationFilter struct {
	BookingID   string
	RequestedBy string
	Status      []CancellationStatus
	Limit       int
	Offset      int
}
