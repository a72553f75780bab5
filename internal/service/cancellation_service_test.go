package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	"github.com/noah-isme/lesson-scheduler-api/internal/repository"
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
)

type memCancellationRepo struct {
	mu       sync.Mutex
	requests map[string]*models.CancellationRequest
	seq      int
}

func newMemCancellationRepo() *memCancellationRepo {
	return &memCancellationRepo{requests: make(map[string]*models.CancellationRequest)}
}

func (r *memCancellationRepo) Create(_ context.Context, request *models.CancellationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if request.ID == "" {
		request.ID = fmt.Sprintf("cr-%d", r.seq)
	}
	clone := *request
	r.requests[request.ID] = &clone
	return nil
}

func (r *memCancellationRepo) GetByID(_ context.Context, id string) (*models.CancellationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *request
	return &clone, nil
}

func (r *memCancellationRepo) List(_ context.Context, _ models.CancellationFilter) ([]models.CancellationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CancellationRequest, 0, len(r.requests))
	for _, request := range r.requests {
		out = append(out, *request)
	}
	return out, nil
}

func (r *memCancellationRepo) UpdateReview(_ context.Context, params repository.ReviewCancellationParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[params.ID]
	if !ok || request.Status != models.CancellationStatusPending {
		return sql.ErrNoRows
	}
	request.Status = params.Status
	request.ReviewedBy = &params.ReviewedBy
	request.ReviewedAt = &params.ReviewedAt
	request.AdminComment = params.AdminComment
	request.RescheduledBookingID = params.RescheduledBookingID
	return nil
}

type stubCancellationBookings struct {
	mu        sync.Mutex
	bookings  map[string]*models.Booking
	cancelled []string
}

func (b *stubCancellationBookings) Get(_ context.Context, id string) (*models.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	booking, ok := b.bookings[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown booking: "+id)
	}
	clone := *booking
	return &clone, nil
}

func (b *stubCancellationBookings) Cancel(_ context.Context, id string) (*models.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	booking, ok := b.bookings[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown booking: "+id)
	}
	booking.Status = models.BookingStatusCancelled
	b.cancelled = append(b.cancelled, id)
	clone := *booking
	return &clone, nil
}

type stubMakeupOpener struct {
	mu     sync.Mutex
	opened []string
	linked []*string
}

func (m *stubMakeupOpener) OpenCredit(_ context.Context, booking *models.Booking, studentID string, rescheduledBookingID *string, now time.Time) (*models.MakeupCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, studentID)
	m.linked = append(m.linked, rescheduledBookingID)
	return &models.MakeupCredit{
		ID:                "mk-" + studentID,
		OriginalBookingID: booking.ID,
		StudentID:         studentID,
		EligibleFrom:      now,
		ExpiresAt:         now.AddDate(0, 0, 30),
		Status:            models.MakeupStatusPending,
	}, nil
}

func newTestCancellationService(t *testing.T) (*CancellationService, *stubCancellationBookings, *stubMakeupOpener, *models.Booking) {
	t.Helper()
	start := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)
	booking := &models.Booking{
		ID:         "bk-1",
		SubjectTag: "math",
		TutorID:    "tutor-1",
		StudentIDs: []string{"student-1"},
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		Status:     models.BookingStatusScheduled,
	}
	bookings := &stubCancellationBookings{bookings: map[string]*models.Booking{booking.ID: booking}}
	makeups := &stubMakeupOpener{}
	svc := NewCancellationService(
		newMemCancellationRepo(),
		bookings,
		makeups,
		nil,
		nil,
		24*time.Hour,
		nil,
		zap.NewNop(),
	)
	return svc, bookings, makeups, booking
}

func requestOf(bookingID string) RequestCancellationRequest {
	return RequestCancellationRequest{BookingID: bookingID, Reason: "family trip"}
}

func TestCancellationRequestLeadTime(t *testing.T) {
	svc, _, _, booking := newTestCancellationService(t)
	deadline := booking.StartTime.Add(-24 * time.Hour)

	// Comfortably early.
	request, err := svc.Request(context.Background(), requestOf(booking.ID), "student-1", deadline.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.CancellationStatusPending, request.Status)

	// Exactly on the deadline is still allowed.
	_, err = svc.Request(context.Background(), requestOf(booking.ID), "student-1", deadline)
	require.NoError(t, err)

	// One minute past the deadline is refused.
	_, err = svc.Request(context.Background(), requestOf(booking.ID), "student-1", deadline.Add(time.Minute))
	require.ErrorIs(t, err, appErrors.ErrTooLate)
}

func TestCancellationRequestRequiresParticipant(t *testing.T) {
	svc, _, _, booking := newTestCancellationService(t)
	early := booking.StartTime.AddDate(0, 0, -7)

	_, err := svc.Request(context.Background(), requestOf(booking.ID), "student-99", early)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestCancellationRequestRequiresScheduledBooking(t *testing.T) {
	svc, bookings, _, booking := newTestCancellationService(t)
	bookings.bookings[booking.ID].Status = models.BookingStatusCompleted
	early := booking.StartTime.AddDate(0, 0, -7)

	_, err := svc.Request(context.Background(), requestOf(booking.ID), "student-1", early)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestCancellationApproveCancelsAndOpensCredit(t *testing.T) {
	svc, bookings, makeups, booking := newTestCancellationService(t)
	early := booking.StartTime.AddDate(0, 0, -7)

	request, err := svc.Request(context.Background(), requestOf(booking.ID), "student-1", early)
	require.NoError(t, err)

	approved, err := svc.Approve(context.Background(), request.ID, "admin-1", ReviewCancellationRequest{Comment: "ok"}, early.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.CancellationStatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, "admin-1", *approved.ReviewedBy)

	assert.Equal(t, []string{booking.ID}, bookings.cancelled)
	require.Equal(t, []string{"student-1"}, makeups.opened)
	assert.Nil(t, makeups.linked[0])

	// Terminal states cannot be revisited.
	_, err = svc.Approve(context.Background(), request.ID, "admin-1", ReviewCancellationRequest{}, early.Add(2*time.Hour))
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	_, err = svc.Reject(context.Background(), request.ID, "admin-1", ReviewCancellationRequest{}, early.Add(2*time.Hour))
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestCancellationApproveWithReplacementBooking(t *testing.T) {
	svc, bookings, makeups, booking := newTestCancellationService(t)
	early := booking.StartTime.AddDate(0, 0, -7)

	replacement := &models.Booking{
		ID:         "bk-replacement",
		TutorID:    "tutor-1",
		StudentIDs: []string{"student-1"},
		StartTime:  booking.StartTime.AddDate(0, 0, 3),
		EndTime:    booking.EndTime.AddDate(0, 0, 3),
		Status:     models.BookingStatusScheduled,
	}
	bookings.bookings[replacement.ID] = replacement

	request, err := svc.Request(context.Background(), requestOf(booking.ID), "student-1", early)
	require.NoError(t, err)

	replacementID := replacement.ID
	approved, err := svc.Approve(context.Background(), request.ID, "admin-1",
		ReviewCancellationRequest{RescheduledBookingID: &replacementID}, early.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, approved.RescheduledBookingID)
	assert.Equal(t, replacement.ID, *approved.RescheduledBookingID)
	require.NotNil(t, makeups.linked[0])
	assert.Equal(t, replacement.ID, *makeups.linked[0])
}

func TestCancellationRejectLeavesBookingAlone(t *testing.T) {
	svc, bookings, makeups, booking := newTestCancellationService(t)
	early := booking.StartTime.AddDate(0, 0, -7)

	request, err := svc.Request(context.Background(), requestOf(booking.ID), "student-1", early)
	require.NoError(t, err)

	rejected, err := svc.Reject(context.Background(), request.ID, "admin-1", ReviewCancellationRequest{Comment: "too frequent"}, early.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.CancellationStatusRejected, rejected.Status)

	assert.Empty(t, bookings.cancelled)
	assert.Empty(t, makeups.opened)
	current, err := bookings.Get(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusScheduled, current.Status)
}

func TestCancellationReviewUnknownRequest(t *testing.T) {
	svc, _, _, _ := newTestCancellationService(t)

	_, err := svc.Approve(context.Background(), "missing", "admin-1", ReviewCancellationRequest{}, time.Now())
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
