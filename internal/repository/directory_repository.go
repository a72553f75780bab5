package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lesson-scheduler-api/internal/models"
)

// DirectoryRepository reads tutor, room, and student records.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// GetTutor fetches a tutor by identifier.
func (r *DirectoryRepository) GetTutor(ctx context.Context, id string) (*models.Tutor, error) {
	const query = `SELECT id, full_name, active, created_at FROM tutors WHERE id = $1`
	var tutor models.Tutor
	if err := r.db.GetContext(ctx, &tutor, query, id); err != nil {
		return nil, err
	}
	return &tutor, nil
}

// GetRoom fetches a room by identifier.
func (r *DirectoryRepository) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	const query = `SELECT id, name, capacity, created_at FROM rooms WHERE id = $1`
	var room models.Room
	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		return nil, err
	}
	return &room, nil
}

// GetStudent fetches a student by identifier.
func (r *DirectoryRepository) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, active, created_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}
