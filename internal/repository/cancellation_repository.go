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

const cancellationColumns = `id, booking_id, requested_by, reason, requested_at, status,
       reviewed_by, reviewed_at, admin_comment, rescheduled_booking_id`

// ReviewCancellationParams carries an admin decision into the guarded
// review update.
type ReviewCancellationParams struct {
	ID                   string
	Status               models.CancellationStatus
	ReviewedBy           string
	ReviewedAt           time.Time
	AdminComment         *string
	RescheduledBookingID *string
}

// CancellationRepository persists cancellation requests.
type CancellationRepository struct {
	db *sqlx.DB
}

// NewCancellationRepository constructs the repository.
func NewCancellationRepository(db *sqlx.DB) *CancellationRepository {
	return &CancellationRepository{db: db}
}

// Create inserts a new pending request.
func (r *CancellationRepository) Create(ctx context.Context, request *models.CancellationRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	const query = `INSERT INTO cancellation_requests
	(id, booking_id, requested_by, reason, requested_at, status)
	VALUES (:id, :booking_id, :requested_by, :reason, :requested_at, :status)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create cancellation request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *CancellationRepository) GetByID(ctx context.Context, id string) (*models.CancellationRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM cancellation_requests WHERE id = $1`, cancellationColumns)
	var request models.CancellationRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests with optional filtering.
func (r *CancellationRepository) List(ctx context.Context, filter models.CancellationFilter) ([]models.CancellationRequest, error) {
	base := fmt.Sprintf("SELECT %s FROM cancellation_requests WHERE 1=1", cancellationColumns)
	var conditions []string
	var args []interface{}

	if filter.BookingID != "" {
		conditions = append(conditions, fmt.Sprintf("booking_id = $%d", len(args)+1))
		args = append(args, filter.BookingID)
	}
	if filter.RequestedBy != "" {
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)+1))
		args = append(args, filter.RequestedBy)
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
	base += " ORDER BY requested_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	base += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(filter.Offset, 0))

	var requests []models.CancellationRequest
	if err := r.db.SelectContext(ctx, &requests, base, args...); err != nil {
		return nil, fmt.Errorf("list cancellation requests: %w", err)
	}
	return requests, nil
}

// UpdateReview records the admin decision. The WHERE guard keeps the
// request single-review: a request already decided yields sql.ErrNoRows.
func (r *CancellationRepository) UpdateReview(ctx context.Context, params ReviewCancellationParams) error {
	const query = `UPDATE cancellation_requests
	SET status = $2, reviewed_by = $3, reviewed_at = $4, admin_comment = $5, rescheduled_booking_id = $6
	WHERE id = $1 AND status = 'PENDING'`
	result, err := r.db.ExecContext(ctx, query,
		params.ID, params.Status, params.ReviewedBy, params.ReviewedAt,
		params.AdminComment, params.RescheduledBookingID)
	if err != nil {
		return fmt.Errorf("review cancellation request: %w", err)
	}
	return requireRows(result)
}
