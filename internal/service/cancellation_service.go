package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-scheduler-api/internal/events"
	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	"github.com/noah-isme/lesson-scheduler-api/internal/repository"
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
)

type cancellationRepository interface {
	Create(ctx context.Context, request *models.CancellationRequest) error
	GetByID(ctx context.Context, id string) (*models.CancellationRequest, error)
	List(ctx context.Context, filter models.CancellationFilter) ([]models.CancellationRequest, error)
	UpdateReview(ctx context.Context, params repository.ReviewCancellationParams) error
}

type cancellationBookings interface {
	Get(ctx context.Context, id string) (*models.Booking, error)
	Cancel(ctx context.Context, id string) (*models.Booking, error)
}

type makeupOpener interface {
	OpenCredit(ctx context.Context, booking *models.Booking, studentID string, rescheduledBookingID *string, now time.Time) (*models.MakeupCredit, error)
}

// RequestCancellationRequest is a student's petition to cancel a booking.
type RequestCancellationRequest struct {
	BookingID string `json:"booking_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

// ReviewCancellationRequest carries the admin decision payload.
type ReviewCancellationRequest struct {
	Comment              string  `json:"comment"`
	RescheduledBookingID *string `json:"rescheduled_booking_id,omitempty"`
}

// CancellationService governs the Pending -> Approved/Rejected state
// machine for student cancellation requests. Terminal requests cannot be
// re-reviewed; retries must be handled by the caller.
type CancellationService struct {
	repo       cancellationRepository
	bookings   cancellationBookings
	makeups    makeupOpener
	dispatcher EventDispatcher
	metrics    *MetricsService
	leadTime   time.Duration
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewCancellationService constructs the workflow service.
func NewCancellationService(
	repo cancellationRepository,
	bookings cancellationBookings,
	makeups makeupOpener,
	dispatcher EventDispatcher,
	metrics *MetricsService,
	leadTime time.Duration,
	validate *validator.Validate,
	logger *zap.Logger,
) *CancellationService {
	if leadTime <= 0 {
		leadTime = 24 * time.Hour
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CancellationService{
		repo:       repo,
		bookings:   bookings,
		makeups:    makeups,
		dispatcher: dispatcher,
		metrics:    metrics,
		leadTime:   leadTime,
		validator:  validate,
		logger:     logger,
	}
}

// Request files a cancellation petition. The student must participate in
// the booking and the request must arrive at least the configured lead
// time before the lesson starts.
func (s *CancellationService) Request(ctx context.Context, req RequestCancellationRequest, studentID string, now time.Time) (*models.CancellationRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	booking, err := s.bookings.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("lesson is %s and can no longer be cancelled", booking.Status))
	}
	if !booking.HasStudent(studentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only participants may request cancellation")
	}

	deadline := booking.StartTime.Add(-s.leadTime)
	if now.After(deadline) {
		return nil, appErrors.Clone(appErrors.ErrTooLate,
			fmt.Sprintf("cancellations close %s before the lesson; the deadline was %s",
				s.leadTime, deadline.UTC().Format(time.RFC3339)))
	}

	request := &models.CancellationRequest{
		BookingID:   req.BookingID,
		RequestedBy: studentID,
		Reason:      req.Reason,
		RequestedAt: now.UTC(),
		Status:      models.CancellationStatusPending,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create cancellation request")
	}

	s.dispatch(events.RKCancellationRequested, cancellationEvent(request, booking, ""))
	return request, nil
}

// Approve cancels the linked booking, closes the request, and opens a
// makeup credit for the requesting student. When the admin supplies a
// replacement booking the credit is born already scheduled.
func (s *CancellationService) Approve(ctx context.Context, requestID, adminID string, req ReviewCancellationRequest, now time.Time) (*models.CancellationRequest, error) {
	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.CancellationStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("request is already %s", request.Status))
	}

	if req.RescheduledBookingID != nil {
		if _, err := s.bookings.Get(ctx, *req.RescheduledBookingID); err != nil {
			return nil, err
		}
	}

	booking, err := s.bookings.Cancel(ctx, request.BookingID)
	if err != nil {
		return nil, err
	}

	if _, err := s.makeups.OpenCredit(ctx, booking, request.RequestedBy, req.RescheduledBookingID, now); err != nil {
		return nil, err
	}

	if err := s.finishReview(ctx, request, models.CancellationStatusApproved, adminID, req, now); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.CancellationDecision("approved")
	}
	s.dispatch(events.RKCancellationApproved, cancellationEvent(request, booking, adminID))
	return request, nil
}

// Reject closes the request without touching the booking.
func (s *CancellationService) Reject(ctx context.Context, requestID, adminID string, req ReviewCancellationRequest, now time.Time) (*models.CancellationRequest, error) {
	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.CancellationStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("request is already %s", request.Status))
	}

	booking, err := s.bookings.Get(ctx, request.BookingID)
	if err != nil {
		return nil, err
	}

	req.RescheduledBookingID = nil
	if err := s.finishReview(ctx, request, models.CancellationStatusRejected, adminID, req, now); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.CancellationDecision("rejected")
	}
	s.dispatch(events.RKCancellationRejected, cancellationEvent(request, booking, adminID))
	return request, nil
}

// Get loads one request.
func (s *CancellationService) Get(ctx context.Context, id string) (*models.CancellationRequest, error) {
	return s.getRequest(ctx, id)
}

// List returns requests matching the filter.
func (s *CancellationService) List(ctx context.Context, filter models.CancellationFilter) ([]models.CancellationRequest, error) {
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cancellation requests")
	}
	return requests, nil
}

func (s *CancellationService) finishReview(ctx context.Context, request *models.CancellationRequest, status models.CancellationStatus, adminID string, req ReviewCancellationRequest, now time.Time) error {
	params := repository.ReviewCancellationParams{
		ID:                   request.ID,
		Status:               status,
		ReviewedBy:           adminID,
		ReviewedAt:           now.UTC(),
		RescheduledBookingID: req.RescheduledBookingID,
	}
	if req.Comment != "" {
		params.AdminComment = &req.Comment
	}
	if err := s.repo.UpdateReview(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "request was reviewed concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record review")
	}
	request.Status = status
	request.ReviewedBy = &params.ReviewedBy
	request.ReviewedAt = &params.ReviewedAt
	request.AdminComment = params.AdminComment
	request.RescheduledBookingID = params.RescheduledBookingID
	return nil
}

func (s *CancellationService) getRequest(ctx context.Context, id string) (*models.CancellationRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown cancellation request: %s", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cancellation request")
	}
	return request, nil
}

func (s *CancellationService) dispatch(routingKey string, payload interface{}) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(routingKey, payload)
	}
}

func cancellationEvent(request *models.CancellationRequest, booking *models.Booking, reviewedBy string) events.CancellationEvent {
	ev := events.CancellationEvent{
		RequestID:  request.ID,
		BookingID:  request.BookingID,
		StudentID:  request.RequestedBy,
		ReviewedBy: reviewedBy,
	}
	if booking != nil {
		ev.TutorID = booking.TutorID
		ev.StudentIDs = append([]string(nil), booking.StudentIDs...)
	}
	return ev
}
