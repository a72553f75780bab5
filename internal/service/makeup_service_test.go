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
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
)

type memMakeupRepo struct {
	mu      sync.Mutex
	credits map[string]*models.MakeupCredit
	seq     int
}

func newMemMakeupRepo() *memMakeupRepo {
	return &memMakeupRepo{credits: make(map[string]*models.MakeupCredit)}
}

func (r *memMakeupRepo) Create(_ context.Context, credit *models.MakeupCredit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if credit.ID == "" {
		credit.ID = fmt.Sprintf("mk-%d", r.seq)
	}
	clone := *credit
	r.credits[credit.ID] = &clone
	return nil
}

func (r *memMakeupRepo) GetByID(_ context.Context, id string) (*models.MakeupCredit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credit, ok := r.credits[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *credit
	return &clone, nil
}

func (r *memMakeupRepo) GetByRescheduledBooking(_ context.Context, bookingID string) (*models.MakeupCredit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, credit := range r.credits {
		if credit.RescheduledBookingID != nil && *credit.RescheduledBookingID == bookingID {
			clone := *credit
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memMakeupRepo) List(_ context.Context, _ models.MakeupFilter) ([]models.MakeupCredit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.MakeupCredit, 0, len(r.credits))
	for _, credit := range r.credits {
		out = append(out, *credit)
	}
	return out, nil
}

func (r *memMakeupRepo) UpdateSchedule(_ context.Context, id, bookingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	credit, ok := r.credits[id]
	if !ok || credit.Status != models.MakeupStatusPending {
		return sql.ErrNoRows
	}
	credit.Status = models.MakeupStatusScheduled
	credit.RescheduledBookingID = &bookingID
	return nil
}

func (r *memMakeupRepo) UpdateStatus(_ context.Context, id string, from, to models.MakeupStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	credit, ok := r.credits[id]
	if !ok || credit.Status != from {
		return sql.ErrNoRows
	}
	credit.Status = to
	return nil
}

func (r *memMakeupRepo) ExtendDeadline(_ context.Context, id string, newExpiresAt time.Time, adminID string, extendedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	credit, ok := r.credits[id]
	if !ok || credit.Status != models.MakeupStatusPending {
		return sql.ErrNoRows
	}
	credit.ExpiresAt = newExpiresAt
	credit.ExtendedBy = &adminID
	credit.ExtendedAt = &extendedAt
	return nil
}

func (r *memMakeupRepo) ExpirePending(_ context.Context, now time.Time) ([]models.MakeupCredit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MakeupCredit
	for _, credit := range r.credits {
		if credit.Status == models.MakeupStatusPending && !credit.ExpiresAt.After(now) {
			credit.Status = models.MakeupStatusExpired
			out = append(out, *credit)
		}
	}
	return out, nil
}

type stubMakeupBookings struct {
	bookings map[string]*models.Booking
}

func (b *stubMakeupBookings) Get(_ context.Context, id string) (*models.Booking, error) {
	booking, ok := b.bookings[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown booking: "+id)
	}
	clone := *booking
	return &clone, nil
}

func newTestMakeupService(t *testing.T) (*MakeupService, *memMakeupRepo, *stubMakeupBookings, *recordingDispatcher) {
	t.Helper()
	repo := newMemMakeupRepo()
	bookings := &stubMakeupBookings{bookings: make(map[string]*models.Booking)}
	dispatcher := &recordingDispatcher{}
	svc := NewMakeupService(repo, bookings, dispatcher, nil, 30*24*time.Hour, zap.NewNop())
	return svc, repo, bookings, dispatcher
}

func cancelledBooking(id string) *models.Booking {
	start := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:         id,
		SubjectTag: "math",
		TutorID:    "tutor-1",
		StudentIDs: []string{"student-1"},
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		Status:     models.BookingStatusCancelled,
	}
}

func TestMakeupOpenCreditWindow(t *testing.T) {
	svc, _, _, _ := newTestMakeupService(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	credit, err := svc.OpenCredit(context.Background(), cancelledBooking("bk-1"), "student-1", nil, now)
	require.NoError(t, err)
	assert.Equal(t, models.MakeupStatusPending, credit.Status)
	assert.Equal(t, now, credit.EligibleFrom)
	assert.Equal(t, now.Add(30*24*time.Hour), credit.ExpiresAt)
}

func TestMakeupOpenCreditWithReplacementStartsScheduled(t *testing.T) {
	svc, _, _, _ := newTestMakeupService(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	replacementID := "bk-2"

	credit, err := svc.OpenCredit(context.Background(), cancelledBooking("bk-1"), "student-1", &replacementID, now)
	require.NoError(t, err)
	assert.Equal(t, models.MakeupStatusScheduled, credit.Status)
	require.NotNil(t, credit.RescheduledBookingID)
	assert.Equal(t, replacementID, *credit.RescheduledBookingID)
}

func TestMakeupScheduleRequiresPendingCredit(t *testing.T) {
	svc, _, bookings, _ := newTestMakeupService(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	replacement := cancelledBooking("bk-2")
	replacement.Status = models.BookingStatusScheduled
	bookings.bookings[replacement.ID] = replacement

	credit, err := svc.OpenCredit(context.Background(), cancelledBooking("bk-1"), "student-1", nil, now)
	require.NoError(t, err)

	scheduled, err := svc.ScheduleMakeup(context.Background(), credit.ID, replacement.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MakeupStatusScheduled, scheduled.Status)

	// Scheduling twice is a state violation.
	_, err = svc.ScheduleMakeup(context.Background(), credit.ID, replacement.ID)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestMakeupScheduleValidatesReplacement(t *testing.T) {
	svc, _, bookings, _ := newTestMakeupService(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	credit, err := svc.OpenCredit(context.Background(), cancelledBooking("bk-1"), "student-1", nil, now)
	require.NoError(t, err)

	// Replacement without the credited student.
	other := cancelledBooking("bk-2")
	other.Status = models.BookingStatusScheduled
	other.StudentIDs = []string{"student-9"}
	bookings.bookings[other.ID] = other
	_, err = svc.ScheduleMakeup(context.Background(), credit.ID, other.ID)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	// Replacement not in the scheduled state.
	done := cancelledBooking("bk-3")
	done.Status = models.BookingStatusCompleted
	bookings.bookings[done.ID] = done
	_, err = svc.ScheduleMakeup(context.Background(), credit.ID, done.ID)
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestMakeupCompleteForBooking(t *testing.T) {
	svc, repo, bookings, _ := newTestMakeupService(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	replacement := cancelledBooking("bk-2")
	replacement.Status = models.BookingStatusScheduled
	bookings.bookings[replacement.ID] = replacement

	credit, err := svc.OpenCredit(context.Background(), cancelledBooking("bk-1"), "student-1", nil, now)
	require.NoError(t, err)
	_, err = svc.ScheduleMakeup(context.Background(), credit.ID, replacement.ID)
	require.NoError(t, err)

	require.NoError(t, svc.CompleteForBooking(context.Background(), replacement.ID))
	stored, err := repo.GetByID(context.Background(), credit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MakeupStatusCompleted, stored.Status)

	// Bookings with no linked credit report not found.
	err = svc.CompleteForBooking(context.Background(), "bk-unlinked")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestMakeupExtendDeadlineStrictlyLater(t *testing.T) {
	svc, _, _, _ := newTestMakeupService(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	credit, err := svc.OpenCredit(context.Background(), cancelledBooking("bk-1"), "student-1", nil, now)
	require.NoError(t, err)

	_, err = svc.ExtendDeadline(context.Background(), credit.ID, "admin-1", credit.ExpiresAt, now)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	later := credit.ExpiresAt.AddDate(0, 0, 14)
	extended, err := svc.ExtendDeadline(context.Background(), credit.ID, "admin-1", later, now)
	require.NoError(t, err)
	assert.Equal(t, later, extended.ExpiresAt)
	require.NotNil(t, extended.ExtendedBy)
	assert.Equal(t, "admin-1", *extended.ExtendedBy)
}

func TestMakeupSweepExpiredIsIdempotent(t *testing.T) {
	svc, _, _, dispatcher := newTestMakeupService(t)
	opened := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	_, err := svc.OpenCredit(context.Background(), cancelledBooking("bk-1"), "student-1", nil, opened)
	require.NoError(t, err)
	_, err = svc.OpenCredit(context.Background(), cancelledBooking("bk-2"), "student-2", nil, opened)
	require.NoError(t, err)
	// A younger credit that must survive the sweep.
	fresh, err := svc.OpenCredit(context.Background(), cancelledBooking("bk-3"), "student-3", nil, opened.AddDate(0, 0, 20))
	require.NoError(t, err)

	sweepAt := opened.Add(30 * 24 * time.Hour)
	count, err := svc.SweepExpired(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, dispatcher.count("makeup.expired"))

	// Re-running the sweep transitions nothing and emits nothing new.
	count, err = svc.SweepExpired(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 2, dispatcher.count("makeup.expired"))

	current, err := svc.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MakeupStatusPending, current.Status)
}
