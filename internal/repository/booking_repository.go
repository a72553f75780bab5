package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lesson-scheduler-api/internal/models"
)

const bookingColumns = `id, subject_tag, level_tag, tutor_id, room_id, student_ids, start_time, end_time,
       is_group, max_participants, status, series_id, created_at, updated_at`

// BookingRepository persists lesson bookings.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository constructs the repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create inserts a new booking row.
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now
	const query = `INSERT INTO bookings
	(id, subject_tag, level_tag, tutor_id, room_id, student_ids, start_time, end_time, is_group, max_participants, status, series_id, created_at, updated_at)
	VALUES (:id, :subject_tag, :level_tag, :tutor_id, :room_id, :student_ids, :start_time, :end_time, :is_group, :max_participants, :status, :series_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, booking); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// GetByID fetches a booking by identifier.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1`, bookingColumns)
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// List returns bookings with optional filtering and pagination.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	base := "FROM bookings WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TutorID != "" {
		conditions = append(conditions, fmt.Sprintf("tutor_id = $%d", len(args)+1))
		args = append(args, filter.TutorID)
	}
	if filter.RoomID != "" {
		conditions = append(conditions, fmt.Sprintf("room_id = $%d", len(args)+1))
		args = append(args, filter.RoomID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(student_ids)", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SeriesID != "" {
		conditions = append(conditions, fmt.Sprintf("series_id = $%d", len(args)+1))
		args = append(args, filter.SeriesID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("end_time > $%d", len(args)+1))
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("start_time < $%d", len(args)+1))
		args = append(args, filter.To)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY start_time ASC LIMIT %d OFFSET %d", bookingColumns, base, size, offset)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	return bookings, total, nil
}

// ListHeld returns every booking still occupying resources; used to warm
// the ledger at startup.
func (r *BookingRepository) ListHeld(ctx context.Context) ([]models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE status IN ('SCHEDULED', 'ONGOING') ORDER BY start_time`, bookingColumns)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query); err != nil {
		return nil, fmt.Errorf("list held bookings: %w", err)
	}
	return bookings, nil
}

// UpdateInterval rewrites the booking's time range. Only scheduled
// bookings may move.
func (r *BookingRepository) UpdateInterval(ctx context.Context, id string, start, end time.Time) error {
	const query = `UPDATE bookings SET start_time = $2, end_time = $3, updated_at = $4 WHERE id = $1 AND status = 'SCHEDULED'`
	result, err := r.db.ExecContext(ctx, query, id, start, end, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update booking interval: %w", err)
	}
	return requireRows(result)
}

// UpdateStudents rewrites the booking's membership.
func (r *BookingRepository) UpdateStudents(ctx context.Context, id string, studentIDs []string) error {
	const query = `UPDATE bookings SET student_ids = $2, updated_at = $3 WHERE id = $1 AND status = 'SCHEDULED'`
	result, err := r.db.ExecContext(ctx, query, id, pq.StringArray(studentIDs), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update booking students: %w", err)
	}
	return requireRows(result)
}

// UpdateStatus performs a guarded status transition; a stale `from` means
// someone else won the race and sql.ErrNoRows is returned.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, from, to models.BookingStatus) error {
	const query = `UPDATE bookings SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	return requireRows(result)
}

// MarkOngoing flips scheduled bookings whose interval has started.
func (r *BookingRepository) MarkOngoing(ctx context.Context, now time.Time) ([]models.Booking, error) {
	query := fmt.Sprintf(`UPDATE bookings SET status = 'ONGOING', updated_at = $1
	WHERE status = 'SCHEDULED' AND start_time <= $1 AND end_time > $1
	RETURNING %s`, bookingColumns)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, now); err != nil {
		return nil, fmt.Errorf("mark bookings ongoing: %w", err)
	}
	return bookings, nil
}

// MarkCompleted flips bookings whose interval has fully elapsed.
func (r *BookingRepository) MarkCompleted(ctx context.Context, now time.Time) ([]models.Booking, error) {
	query := fmt.Sprintf(`UPDATE bookings SET status = 'COMPLETED', updated_at = $1
	WHERE status IN ('SCHEDULED', 'ONGOING') AND end_time <= $1
	RETURNING %s`, bookingColumns)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, now); err != nil {
		return nil, fmt.Errorf("mark bookings completed: %w", err)
	}
	return bookings, nil
}

func requireRows(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
