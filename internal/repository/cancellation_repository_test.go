package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-scheduler-api/internal/models"
)

func TestCancellationRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCancellationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cancellation_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := &models.CancellationRequest{
		BookingID:   "bk-1",
		RequestedBy: "student-1",
		Reason:      "sick",
		RequestedAt: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
		Status:      models.CancellationStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID)

	rows := sqlmock.NewRows([]string{
		"id", "booking_id", "requested_by", "reason", "requested_at", "status",
		"reviewed_by", "reviewed_at", "admin_comment", "rescheduled_booking_id",
	}).AddRow(request.ID, "bk-1", "student-1", "sick", request.RequestedAt, "PENDING", nil, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, booking_id")).
		WithArgs(request.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, models.CancellationStatusPending, found.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancellationRepositoryUpdateReviewGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCancellationRepository(db)
	comment := "approved, see makeup credit"
	params := ReviewCancellationParams{
		ID:           "cr-1",
		Status:       models.CancellationStatusApproved,
		ReviewedBy:   "admin-1",
		ReviewedAt:   time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		AdminComment: &comment,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE cancellation_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateReview(context.Background(), params))

	// A second review of the same request matches no pending row.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE cancellation_requests")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateReview(context.Background(), params)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancellationRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCancellationRepository(db)
	rows := sqlmock.NewRows([]string{
		"id", "booking_id", "requested_by", "reason", "requested_at", "status",
		"reviewed_by", "reviewed_at", "admin_comment", "rescheduled_booking_id",
	}).AddRow("cr-1", "bk-1", "student-1", "travel", time.Now(), "PENDING", nil, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, booking_id")).
		WithArgs("student-1", "PENDING").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.CancellationFilter{
		RequestedBy: "student-1",
		Status:      []models.CancellationStatus{models.CancellationStatusPending},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "cr-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
