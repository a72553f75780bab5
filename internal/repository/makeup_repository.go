package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lesson-scheduler-api/internal/models"
)

const makeupColumns = `id, original_booking_id, student_id, eligible_from, expires_at, status,
       rescheduled_booking_id, extended_by, extended_at, created_at`

// MakeupRepository persists makeup credits.
type MakeupRepository struct {
	db *sqlx.DB
}

// NewMakeupRepository constructs the repository.
func NewMakeupRepository(db *sqlx.DB) *MakeupRepository {
	return &MakeupRepository{db: db}
}

// Create inserts a new credit row.
func (r *MakeupRepository) Create(ctx context.Context, credit *models.MakeupCredit) error {
	if credit.ID == "" {
		credit.ID = uuid.NewString()
	}
	if credit.CreatedAt.IsZero() {
		credit.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO makeup_credits
	(id, original_booking_id, student_id, eligible_from, expires_at, status, rescheduled_booking_id, created_at)
	VALUES (:id, :original_booking_id, :student_id, :eligible_from, :expires_at, :status, :rescheduled_booking_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, credit); err != nil {
		return fmt.Errorf("create makeup credit: %w", err)
	}
	return nil
}

// GetByID fetches a credit by identifier.
func (r *MakeupRepository) GetByID(ctx context.Context, id string) (*models.MakeupCredit, error) {
	query := fmt.Sprintf(`SELECT %s FROM makeup_credits WHERE id = $1`, makeupColumns)
	var credit models.MakeupCredit
	if err := r.db.GetContext(ctx, &credit, query, id); err != nil {
		return nil, err
	}
	return &credit, nil
}

// GetByRescheduledBooking finds the credit consumed by a replacement
// lesson, if any.
func (r *MakeupRepository) GetByRescheduledBooking(ctx context.Context, bookingID string) (*models.MakeupCredit, error) {
	query := fmt.Sprintf(`SELECT %s FROM makeup_credits WHERE rescheduled_booking_id = $1`, makeupColumns)
	var credit models.MakeupCredit
	if err := r.db.GetContext(ctx, &credit, query, bookingID); err != nil {
		return nil, err
	}
	return &credit, nil
}

// List returns credits with optional filtering.
func (r *MakeupRepository) List(ctx context.Context, filter models.MakeupFilter) ([]models.MakeupCredit, error) {
	base := fmt.Sprintf("SELECT %s FROM makeup_credits WHERE 1=1", makeupColumns)
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}
	base += " ORDER BY expires_at ASC"

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	base += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(filter.Offset, 0))

	var credits []models.MakeupCredit
	if err := r.db.SelectContext(ctx, &credits, base, args...); err != nil {
		return nil, fmt.Errorf("list makeup credits: %w", err)
	}
	return credits, nil
}

// UpdateSchedule attaches a replacement booking to a pending credit.
func (r *MakeupRepository) UpdateSchedule(ctx context.Context, id, bookingID string) error {
	const query = `UPDATE makeup_credits
	SET status = 'SCHEDULED', rescheduled_booking_id = $2
	WHERE id = $1 AND status = 'PENDING'`
	result, err := r.db.ExecContext(ctx, query, id, bookingID)
	if err != nil {
		return fmt.Errorf("schedule makeup credit: %w", err)
	}
	return requireRows(result)
}

// UpdateStatus performs a guarded status transition.
func (r *MakeupRepository) UpdateStatus(ctx context.Context, id string, from, to models.MakeupStatus) error {
	const query = `UPDATE makeup_credits SET status = $3 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("update makeup status: %w", err)
	}
	return requireRows(result)
}

// ExtendDeadline pushes a pending credit's expiry out.
func (r *MakeupRepository) ExtendDeadline(ctx context.Context, id string, expiresAt time.Time, adminID string, extendedAt time.Time) error {
	const query = `UPDATE makeup_credits
	SET expires_at = $2, extended_by = $3, extended_at = $4
	WHERE id = $1 AND status = 'PENDING'`
	result, err := r.db.ExecContext(ctx, query, id, expiresAt, adminID, extendedAt)
	if err != nil {
		return fmt.Errorf("extend makeup deadline: %w", err)
	}
	return requireRows(result)
}

// ExpirePending flips every overdue pending credit and returns the rows
// it changed. Running it twice for the same instant changes nothing the
// second time.
func (r *MakeupRepository) ExpirePending(ctx context.Context, now time.Time) ([]models.MakeupCredit, error) {
	query := fmt.Sprintf(`UPDATE makeup_credits SET status = 'EXPIRED'
	WHERE status = 'PENDING' AND expires_at <= $1
	RETURNING %s`, makeupColumns)
	var credits []models.MakeupCredit
	if err := r.db.SelectContext(ctx, &credits, query, now); err != nil {
		return nil, fmt.Errorf("expire makeup credits: %w", err)
	}
	return credits, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
