package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-scheduler-api/internal/events"
	"github.com/noah-isme/lesson-scheduler-api/internal/ledger"
	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
)

type bookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
	ListHeld(ctx context.Context) ([]models.Booking, error)
	UpdateInterval(ctx context.Context, id string, start, end time.Time) error
	UpdateStudents(ctx context.Context, id string, studentIDs []string) error
	UpdateStatus(ctx context.Context, id string, from, to models.BookingStatus) error
	MarkOngoing(ctx context.Context, now time.Time) ([]models.Booking, error)
	MarkCompleted(ctx context.Context, now time.Time) ([]models.Booking, error)
}

type bookingDirectory interface {
	Tutor(ctx context.Context, id string) (*models.Tutor, error)
	Room(ctx context.Context, id string) (*models.Room, error)
	Student(ctx context.Context, id string) (*models.Student, error)
}

type makeupCompleter interface {
	CompleteForBooking(ctx context.Context, bookingID string) error
}

// CreateLessonRequest describes payload for booking a single lesson.
type CreateLessonRequest struct {
	SubjectTag      string    `json:"subject_tag" validate:"required"`
	LevelTag        string    `json:"level_tag"`
	TutorID         string    `json:"tutor_id" validate:"required"`
	RoomID          *string   `json:"room_id"`
	StudentIDs      []string  `json:"student_ids" validate:"required,min=1,dive,required"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required"`
	IsGroup         bool      `json:"is_group"`
	MaxParticipants int       `json:"max_participants"`
}

// CreateSeriesRequest books a base lesson plus its recurrence.
type CreateSeriesRequest struct {
	Lesson CreateLessonRequest   `json:"lesson" validate:"required"`
	Rule   models.RecurrenceRule `json:"rule" validate:"required"`
}

// SkippedOccurrence reports a series occurrence dropped due to conflicts.
type SkippedOccurrence struct {
	StartTime time.Time                `json:"start_time"`
	EndTime   time.Time                `json:"end_time"`
	Conflicts []models.BookingConflict `json:"conflicts"`
}

// SeriesResult summarises a recurring creation: conflicts skip individual
// occurrences, they never abort the series.
type SeriesResult struct {
	SeriesID string              `json:"series_id"`
	Created  []models.Booking    `json:"created"`
	Skipped  []SkippedOccurrence `json:"skipped"`
}

// StatusAdvanceResult summarises a clock-driven status sweep.
type StatusAdvanceResult struct {
	Started   int `json:"started"`
	Completed int `json:"completed"`
}

// BookingService orchestrates the lifecycle of lesson bookings: creation,
// series expansion, rescheduling, membership, and cancellation. All
// resource claims go through the ledger; the durable write happens only
// after the holds are acquired.
type BookingService struct {
	repo       bookingRepository
	directory  bookingDirectory
	detector   *ConflictDetector
	ledger     *ledger.Ledger
	expander   RecurrenceExpander
	dispatcher EventDispatcher
	metrics    *MetricsService
	makeups    makeupCompleter
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewBookingService constructs the service.
func NewBookingService(
	repo bookingRepository,
	directory bookingDirectory,
	l *ledger.Ledger,
	expander RecurrenceExpander,
	dispatcher EventDispatcher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		repo:       repo,
		directory:  directory,
		detector:   NewConflictDetector(l),
		ledger:     l,
		expander:   expander,
		dispatcher: dispatcher,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
	}
}

// SetMakeupCompleter wires the makeup tracker in after construction; the
// two services reference each other.
func (s *BookingService) SetMakeupCompleter(m makeupCompleter) {
	s.makeups = m
}

// Bootstrap rebuilds the ledger from every booking still holding
// resources. Called once at startup before the API accepts traffic.
func (s *BookingService) Bootstrap(ctx context.Context) error {
	bookings, err := s.repo.ListHeld(ctx)
	if err != nil {
		return fmt.Errorf("load held bookings: %w", err)
	}
	for i := range bookings {
		b := &bookings[i]
		iv := ledger.Interval{Start: b.StartTime, End: b.EndTime}
		if _, err := s.ledger.ReserveAll(b.ID, iv, b.ResourceIDs()); err != nil {
			// Persisted state should never violate the no-overlap
			// invariant; surface it loudly instead of guessing.
			return fmt.Errorf("bootstrap booking %s: %w", b.ID, err)
		}
	}
	s.logger.Info("ledger bootstrapped", zap.Int("bookings", len(bookings)))
	return nil
}

// Create books a single lesson.
func (s *BookingService) Create(ctx context.Context, req CreateLessonRequest) (*models.Booking, error) {
	return s.create(ctx, req, nil)
}

func (s *BookingService) create(ctx context.Context, req CreateLessonRequest, seriesID *string) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	iv := ledger.Interval{Start: req.StartTime.UTC(), End: req.EndTime.UTC()}
	if !iv.Valid() {
		return nil, appErrors.ErrInvalidInterval
	}
	if err := s.checkCapacity(req.IsGroup, req.MaxParticipants, len(req.StudentIDs)); err != nil {
		return nil, err
	}
	if err := s.resolveResources(ctx, req); err != nil {
		return nil, err
	}

	refs := bookingResourceRefs(req.TutorID, req.RoomID, req.StudentIDs)
	if conflicts := s.detector.CheckConflicts(refs, iv, ""); len(conflicts) > 0 {
		s.observeConflict()
		return nil, newConflictError(iv, conflicts)
	}

	booking := &models.Booking{
		ID:              uuid.NewString(),
		SubjectTag:      req.SubjectTag,
		LevelTag:        req.LevelTag,
		TutorID:         req.TutorID,
		RoomID:          req.RoomID,
		StudentIDs:      append([]string(nil), req.StudentIDs...),
		StartTime:       iv.Start,
		EndTime:         iv.End,
		IsGroup:         req.IsGroup,
		MaxParticipants: req.MaxParticipants,
		Status:          models.BookingStatusScheduled,
		SeriesID:        seriesID,
	}

	holdIDs, err := s.ledger.ReserveAll(booking.ID, iv, booking.ResourceIDs())
	if err != nil {
		// A reservation lost against a concurrent booking looks exactly
		// like a detected conflict to the caller.
		if conflictErr := s.translateLedgerConflict(refs, err); conflictErr != nil {
			return nil, conflictErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve resources")
	}

	if err := s.repo.Create(ctx, booking); err != nil {
		s.ledger.ReleaseHolds(holdIDs)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist booking")
	}

	if s.metrics != nil {
		s.metrics.BookingCreated()
	}
	s.dispatch(events.RKBookingCreated, bookingEvent(booking))
	return booking, nil
}

// CreateSeries books the base lesson and every viable occurrence of the
// rule. Occurrences that conflict are reported, not fatal: a multi-month
// series must not fail wholesale because one date collides.
func (s *BookingService) CreateSeries(ctx context.Context, req CreateSeriesRequest) (*SeriesResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	occurrences, err := s.expander.Expand(req.Lesson.StartTime.UTC(), req.Lesson.EndTime.UTC(), req.Rule)
	if err != nil {
		return nil, err
	}

	seriesID := uuid.NewString()
	base, err := s.create(ctx, req.Lesson, &seriesID)
	if err != nil {
		return nil, err
	}

	result := &SeriesResult{SeriesID: seriesID, Created: []models.Booking{*base}}
	for _, occ := range occurrences[1:] {
		occReq := req.Lesson
		occReq.StartTime = occ.Start
		occReq.EndTime = occ.End
		booking, err := s.create(ctx, occReq, &seriesID)
		if err != nil {
			var conflictErr *models.BookingConflictError
			if errors.As(err, &conflictErr) {
				result.Skipped = append(result.Skipped, SkippedOccurrence{
					StartTime: occ.Start,
					EndTime:   occ.End,
					Conflicts: conflictErr.Conflicts,
				})
				if s.metrics != nil {
					s.metrics.SeriesOccurrence("skipped")
				}
				continue
			}
			return nil, err
		}
		result.Created = append(result.Created, *booking)
		if s.metrics != nil {
			s.metrics.SeriesOccurrence("created")
		}
	}
	return result, nil
}

// Move reschedules a booking onto a new interval. On conflict the booking
// is left untouched and the colliding bookings are reported.
func (s *BookingService) Move(ctx context.Context, id string, newStart, newEnd time.Time) (*models.Booking, error) {
	return s.reschedule(ctx, id, func(b *models.Booking) ledger.Interval {
		return ledger.Interval{Start: newStart.UTC(), End: newEnd.UTC()}
	})
}

// Resize keeps the start and changes only the end of a booking.
func (s *BookingService) Resize(ctx context.Context, id string, newEnd time.Time) (*models.Booking, error) {
	return s.reschedule(ctx, id, func(b *models.Booking) ledger.Interval {
		return ledger.Interval{Start: b.StartTime, End: newEnd.UTC()}
	})
}

func (s *BookingService) reschedule(ctx context.Context, id string, target func(*models.Booking) ledger.Interval) (*models.Booking, error) {
	booking, err := s.getScheduled(ctx, id)
	if err != nil {
		return nil, err
	}

	iv := target(booking)
	if !iv.Valid() {
		return nil, appErrors.ErrInvalidInterval
	}

	refs := bookingResourceRefs(booking.TutorID, booking.RoomID, booking.StudentIDs)
	if conflicts := s.detector.CheckConflicts(refs, iv, booking.ID); len(conflicts) > 0 {
		s.observeConflict()
		return nil, newConflictError(iv, conflicts)
	}

	oldHolds := s.ledger.HoldsForBooking(booking.ID)
	newHolds, err := s.ledger.ReserveAll(booking.ID, iv, booking.ResourceIDs())
	if err != nil {
		if conflictErr := s.translateLedgerConflict(refs, err); conflictErr != nil {
			return nil, conflictErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve resources")
	}

	if err := s.repo.UpdateInterval(ctx, booking.ID, iv.Start, iv.End); err != nil {
		s.ledger.ReleaseHolds(newHolds)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist new interval")
	}
	s.ledger.ReleaseHolds(oldHolds)

	booking.StartTime = iv.Start
	booking.EndTime = iv.End
	s.dispatch(events.RKBookingMoved, bookingEvent(booking))
	return booking, nil
}

// AddStudent enrols a student into a group lesson, guarding both the
// capacity invariant and the student's own calendar.
func (s *BookingService) AddStudent(ctx context.Context, bookingID, studentID string) (*models.Booking, error) {
	booking, err := s.getScheduled(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsGroup {
		return nil, appErrors.Clone(appErrors.ErrValidation, "membership changes apply to group lessons only")
	}
	if booking.HasStudent(studentID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student already enrolled in this lesson")
	}
	if len(booking.StudentIDs)+1 > booking.MaxParticipants {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("lesson is full (%d/%d participants)", len(booking.StudentIDs), booking.MaxParticipants))
	}
	if _, err := s.directory.Student(ctx, studentID); err != nil {
		return nil, err
	}

	iv := ledger.Interval{Start: booking.StartTime, End: booking.EndTime}
	refs := []ResourceRef{{ID: studentID, Dimension: models.ConflictDimensionStudent}}
	if conflicts := s.detector.CheckConflicts(refs, iv, booking.ID); len(conflicts) > 0 {
		s.observeConflict()
		return nil, newConflictError(iv, conflicts)
	}

	holdID, err := s.ledger.Reserve(studentID, booking.ID, iv)
	if err != nil {
		if conflictErr := s.translateLedgerConflict(refs, err); conflictErr != nil {
			return nil, conflictErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve student")
	}

	updated := append(append([]string(nil), booking.StudentIDs...), studentID)
	if err := s.repo.UpdateStudents(ctx, booking.ID, updated); err != nil {
		s.ledger.Release(holdID)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist membership")
	}
	booking.StudentIDs = updated
	return booking, nil
}

// RemoveStudent withdraws a student from a group lesson and frees their
// hold on the interval.
func (s *BookingService) RemoveStudent(ctx context.Context, bookingID, studentID string) (*models.Booking, error) {
	booking, err := s.getScheduled(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsGroup {
		return nil, appErrors.Clone(appErrors.ErrValidation, "membership changes apply to group lessons only")
	}
	if !booking.HasStudent(studentID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not enrolled in this lesson")
	}
	if len(booking.StudentIDs) == 1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a lesson must keep at least one student")
	}

	updated := make([]string, 0, len(booking.StudentIDs)-1)
	for _, id := range booking.StudentIDs {
		if id != studentID {
			updated = append(updated, id)
		}
	}
	if err := s.repo.UpdateStudents(ctx, booking.ID, updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist membership")
	}
	s.ledger.ReleaseResourceHold(booking.ID, studentID)
	booking.StudentIDs = updated
	return booking, nil
}

// Cancel releases the booking's holds and marks it cancelled. It does not
// open a makeup credit; that is the cancellation workflow's decision, so
// administrative cancellations skip the makeup pipeline.
func (s *BookingService) Cancel(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.BookingStatusCancelled || booking.Status == models.BookingStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("lesson is already %s", booking.Status))
	}

	if err := s.repo.UpdateStatus(ctx, id, booking.Status, models.BookingStatusCancelled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "lesson state changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel booking")
	}
	s.ledger.ReleaseBooking(id)

	booking.Status = models.BookingStatusCancelled
	s.dispatch(events.RKBookingCancelled, bookingEvent(booking))
	return booking, nil
}

// AdvanceStatuses moves bookings along Scheduled -> Ongoing -> Completed
// based on the wall clock. Invoked by the external scheduler trigger, not
// by the engine itself. Completing a booking also completes any makeup
// credit it fulfils and frees the now-stale ledger holds.
func (s *BookingService) AdvanceStatuses(ctx context.Context, now time.Time) (*StatusAdvanceResult, error) {
	started, err := s.repo.MarkOngoing(ctx, now.UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start bookings")
	}
	completed, err := s.repo.MarkCompleted(ctx, now.UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete bookings")
	}
	for i := range completed {
		b := &completed[i]
		s.ledger.ReleaseBooking(b.ID)
		if s.makeups != nil {
			if err := s.makeups.CompleteForBooking(ctx, b.ID); err != nil && !errors.Is(err, appErrors.ErrNotFound) {
				s.logger.Warn("failed to complete makeup credit", zap.String("booking_id", b.ID), zap.Error(err))
			}
		}
	}
	return &StatusAdvanceResult{Started: len(started), Completed: len(completed)}, nil
}

// Get loads one booking.
func (s *BookingService) Get(ctx context.Context, id string) (*models.Booking, error) {
	return s.getBooking(ctx, id)
}

// List returns bookings and a total count for the filter.
func (s *BookingService) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	bookings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	return bookings, total, nil
}

func (s *BookingService) getBooking(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown booking: %s", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	return booking, nil
}

func (s *BookingService) getScheduled(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("lesson is %s and can no longer be modified", booking.Status))
	}
	return booking, nil
}

func (s *BookingService) checkCapacity(isGroup bool, maxParticipants, students int) error {
	if !isGroup {
		if students != 1 {
			return appErrors.Clone(appErrors.ErrValidation, "one-to-one lessons take exactly one student")
		}
		return nil
	}
	if maxParticipants < 1 {
		return appErrors.Clone(appErrors.ErrValidation, "group lessons require max_participants")
	}
	if students > maxParticipants {
		return appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("%d students exceed the limit of %d", students, maxParticipants))
	}
	return nil
}

func (s *BookingService) resolveResources(ctx context.Context, req CreateLessonRequest) error {
	if s.directory == nil {
		return nil
	}
	if _, err := s.directory.Tutor(ctx, req.TutorID); err != nil {
		return err
	}
	if req.RoomID != nil && *req.RoomID != "" {
		room, err := s.directory.Room(ctx, *req.RoomID)
		if err != nil {
			return err
		}
		if room.Capacity > 0 && len(req.StudentIDs) > room.Capacity {
			return appErrors.Clone(appErrors.ErrCapacityExceeded,
				fmt.Sprintf("room %s holds %d participants", room.Name, room.Capacity))
		}
	}
	for _, id := range req.StudentIDs {
		if _, err := s.directory.Student(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// translateLedgerConflict maps a lost reservation race onto the same
// structured conflict the detector reports.
func (s *BookingService) translateLedgerConflict(refs []ResourceRef, err error) *models.BookingConflictError {
	var lerr *ledger.ConflictError
	if !errors.As(err, &lerr) {
		return nil
	}
	s.observeConflict()
	dims := make(map[string]models.ConflictDimension, len(refs))
	for _, ref := range refs {
		dims[ref.ID] = ref.Dimension
	}
	conflicts := make([]models.BookingConflict, 0, len(lerr.Overlaps))
	for _, o := range lerr.Overlaps {
		conflicts = append(conflicts, models.BookingConflict{
			BookingID:  o.BookingID,
			ResourceID: o.ResourceID,
			Dimension:  dims[o.ResourceID],
			StartTime:  o.Interval.Start,
			EndTime:    o.Interval.End,
		})
	}
	return newConflictError(lerr.Interval, conflicts)
}

func (s *BookingService) observeConflict() {
	if s.metrics != nil {
		s.metrics.BookingConflict()
	}
}

func (s *BookingService) dispatch(routingKey string, payload interface{}) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(routingKey, payload)
	}
}

func newConflictError(iv ledger.Interval, conflicts []models.BookingConflict) *models.BookingConflictError {
	return &models.BookingConflictError{
		Message:   fmt.Sprintf("lesson conflicts with %d existing booking(s)", len(conflicts)),
		StartTime: iv.Start,
		EndTime:   iv.End,
		Conflicts: conflicts,
	}
}

func bookingEvent(b *models.Booking) events.BookingEvent {
	ev := events.BookingEvent{
		BookingID:  b.ID,
		TutorID:    b.TutorID,
		StudentIDs: append([]string(nil), b.StudentIDs...),
		StartTime:  b.StartTime,
		EndTime:    b.EndTime,
	}
	if b.RoomID != nil {
		ev.RoomID = *b.RoomID
	}
	return ev
}
