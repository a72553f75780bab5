package events

import "time"

// Routing keys for outbound lifecycle events. The notification dispatcher
// binds queues against these; the engine never formats messages itself.
const (
	RKBookingCreated        = "lesson.created"
	RKBookingMoved          = "lesson.moved"
	RKBookingCancelled      = "lesson.cancelled"
	RKCancellationRequested = "cancellation.requested"
	RKCancellationApproved  = "cancellation.approved"
	RKCancellationRejected  = "cancellation.rejected"
	RKMakeupExpired         = "makeup.expired"
)

// BookingEvent carries enough identifiers for the dispatcher to resolve
// recipients on its own.
type BookingEvent struct {
	BookingID  string    `json:"booking_id"`
	TutorID    string    `json:"tutor_id"`
	RoomID     string    `json:"room_id,omitempty"`
	StudentIDs []string  `json:"student_ids"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

// CancellationEvent describes a cancellation request transition.
type CancellationEvent struct {
	RequestID  string   `json:"request_id"`
	BookingID  string   `json:"booking_id"`
	StudentID  string   `json:"student_id"`
	TutorID    string   `json:"tutor_id"`
	StudentIDs []string `json:"student_ids,omitempty"`
	ReviewedBy string   `json:"reviewed_by,omitempty"`
}

// MakeupEvent describes a makeup credit transition.
type MakeupEvent struct {
	CreditID          string    `json:"credit_id"`
	OriginalBookingID string    `json:"original_booking_id"`
	StudentID         string    `json:"student_id"`
	ExpiresAt         time.Time `json:"expires_at"`
}
