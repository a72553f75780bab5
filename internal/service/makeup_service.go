package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-scheduler-api/internal/events"
	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
)

type makeupRepository interface {
	Create(ctx context.Context, credit *models.MakeupCredit) error
	GetByID(ctx context.Context, id string) (*models.MakeupCredit, error)
	GetByRescheduledBooking(ctx context.Context, bookingID string) (*models.MakeupCredit, error)
	List(ctx context.Context, filter models.MakeupFilter) ([]models.MakeupCredit, error)
	UpdateSchedule(ctx context.Context, id, bookingID string) error
	UpdateStatus(ctx context.Context, id string, from, to models.MakeupStatus) error
	ExtendDeadline(ctx context.Context, id string, newExpiresAt time.Time, adminID string, extendedAt time.Time) error
	ExpirePending(ctx context.Context, now time.Time) ([]models.MakeupCredit, error)
}

type makeupBookings interface {
	Get(ctx context.Context, id string) (*models.Booking, error)
}

// MakeupService tracks the eligibility windows opened by approved
// cancellations and runs the periodic expiry sweep.
type MakeupService struct {
	repo       makeupRepository
	bookings   makeupBookings
	dispatcher EventDispatcher
	metrics    *MetricsService
	window     time.Duration
	logger     *zap.Logger
}

// NewMakeupService constructs the tracker service.
func NewMakeupService(
	repo makeupRepository,
	bookings makeupBookings,
	dispatcher EventDispatcher,
	metrics *MetricsService,
	window time.Duration,
	logger *zap.Logger,
) *MakeupService {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MakeupService{
		repo:       repo,
		bookings:   bookings,
		dispatcher: dispatcher,
		metrics:    metrics,
		window:     window,
		logger:     logger,
	}
}

// OpenCredit records a new makeup window for the student of a cancelled
// booking. When a replacement booking is already known the credit starts
// out scheduled instead of pending.
func (s *MakeupService) OpenCredit(ctx context.Context, booking *models.Booking, studentID string, rescheduledBookingID *string, now time.Time) (*models.MakeupCredit, error) {
	credit := &models.MakeupCredit{
		OriginalBookingID:    booking.ID,
		StudentID:            studentID,
		EligibleFrom:         now.UTC(),
		ExpiresAt:            now.UTC().Add(s.window),
		Status:               models.MakeupStatusPending,
		RescheduledBookingID: rescheduledBookingID,
	}
	if rescheduledBookingID != nil {
		credit.Status = models.MakeupStatusScheduled
	}
	if err := s.repo.Create(ctx, credit); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create makeup credit")
	}
	return credit, nil
}

// ScheduleMakeup links a replacement booking to a pending credit.
func (s *MakeupService) ScheduleMakeup(ctx context.Context, creditID, bookingID string) (*models.MakeupCredit, error) {
	credit, err := s.getCredit(ctx, creditID)
	if err != nil {
		return nil, err
	}
	if credit.Status != models.MakeupStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("makeup credit is %s, only pending credits can be scheduled", credit.Status))
	}

	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.HasStudent(credit.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "replacement lesson does not include the credited student")
	}
	if booking.Status != models.BookingStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrValidation, "replacement lesson must be scheduled")
	}

	if err := s.repo.UpdateSchedule(ctx, creditID, bookingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "makeup credit changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule makeup")
	}
	credit.Status = models.MakeupStatusScheduled
	credit.RescheduledBookingID = &bookingID
	return credit, nil
}

// CompleteMakeup marks a scheduled credit as fulfilled.
func (s *MakeupService) CompleteMakeup(ctx context.Context, creditID string) (*models.MakeupCredit, error) {
	credit, err := s.getCredit(ctx, creditID)
	if err != nil {
		return nil, err
	}
	if credit.Status != models.MakeupStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("makeup credit is %s, only scheduled credits can complete", credit.Status))
	}
	if err := s.repo.UpdateStatus(ctx, creditID, models.MakeupStatusScheduled, models.MakeupStatusCompleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "makeup credit changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete makeup")
	}
	credit.Status = models.MakeupStatusCompleted
	return credit, nil
}

// CompleteForBooking fulfils whichever credit is linked to the booking.
// Used by the status sweep when a replacement lesson finishes; bookings
// without a credit return ErrNotFound.
func (s *MakeupService) CompleteForBooking(ctx context.Context, bookingID string) error {
	credit, err := s.repo.GetByRescheduledBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load makeup credit")
	}
	if credit.Status != models.MakeupStatusScheduled {
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, credit.ID, models.MakeupStatusScheduled, models.MakeupStatusCompleted); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete makeup")
	}
	return nil
}

// ExtendDeadline pushes a pending credit's expiry strictly later.
func (s *MakeupService) ExtendDeadline(ctx context.Context, creditID, adminID string, newExpiresAt, now time.Time) (*models.MakeupCredit, error) {
	credit, err := s.getCredit(ctx, creditID)
	if err != nil {
		return nil, err
	}
	if credit.Status != models.MakeupStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("makeup credit is %s, only pending credits can be extended", credit.Status))
	}
	if !newExpiresAt.After(credit.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("new deadline must be later than the current one (%s)", credit.ExpiresAt.UTC().Format(time.RFC3339)))
	}

	extendedAt := now.UTC()
	if err := s.repo.ExtendDeadline(ctx, creditID, newExpiresAt.UTC(), adminID, extendedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "makeup credit changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to extend deadline")
	}
	credit.ExpiresAt = newExpiresAt.UTC()
	credit.ExtendedBy = &adminID
	credit.ExtendedAt = &extendedAt
	return credit, nil
}

// SweepExpired transitions every pending credit whose window has closed to
// expired and emits one event per credit actually transitioned. The
// guarded update makes the sweep idempotent: overlapping trigger firings
// cannot double-expire or double-emit.
func (s *MakeupService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ExpirePending(ctx, now.UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sweep makeup credits")
	}
	for i := range expired {
		credit := &expired[i]
		s.dispatch(events.RKMakeupExpired, events.MakeupEvent{
			CreditID:          credit.ID,
			OriginalBookingID: credit.OriginalBookingID,
			StudentID:         credit.StudentID,
			ExpiresAt:         credit.ExpiresAt,
		})
	}
	if len(expired) > 0 {
		s.logger.Info("expired makeup credits", zap.Int("count", len(expired)))
	}
	if s.metrics != nil {
		s.metrics.MakeupsExpired(len(expired))
	}
	return len(expired), nil
}

// Get loads one credit.
func (s *MakeupService) Get(ctx context.Context, id string) (*models.MakeupCredit, error) {
	return s.getCredit(ctx, id)
}

// List returns credits matching the filter.
func (s *MakeupService) List(ctx context.Context, filter models.MakeupFilter) ([]models.MakeupCredit, error) {
	credits, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list makeup credits")
	}
	return credits, nil
}

func (s *MakeupService) getCredit(ctx context.Context, id string) (*models.MakeupCredit, error) {
	credit, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown makeup credit: %s", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load makeup credit")
	}
	return credit, nil
}

func (s *MakeupService) dispatch(routingKey string, payload interface{}) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(routingKey, payload)
	}
}
