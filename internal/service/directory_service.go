package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
)

type directoryRepository interface {
	GetTutor(ctx context.Context, id string) (*models.Tutor, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	GetStudent(ctx context.Context, id string) (*models.Student, error)
}

type directoryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DirectoryService resolves tutor, room, and student identities and their
// static attributes, fronted by a TTL cache since directory records change
// rarely compared to bookings.
type DirectoryService struct {
	repo   directoryRepository
	cache  directoryCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewDirectoryService constructs the service. The cache may be nil.
func NewDirectoryService(repo directoryRepository, cache directoryCache, ttl time.Duration, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DirectoryService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Tutor resolves a tutor by id.
func (s *DirectoryService) Tutor(ctx context.Context, id string) (*models.Tutor, error) {
	key := "directory:tutor:" + id
	var cached models.Tutor
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}
	tutor, err := s.repo.GetTutor(ctx, id)
	if err != nil {
		return nil, directoryLookupError(err, "tutor", id)
	}
	s.cacheSet(ctx, key, tutor)
	return tutor, nil
}

// Room resolves a room by id.
func (s *DirectoryService) Room(ctx context.Context, id string) (*models.Room, error) {
	key := "directory:room:" + id
	var cached models.Room
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}
	room, err := s.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, directoryLookupError(err, "room", id)
	}
	s.cacheSet(ctx, key, room)
	return room, nil
}

// Student resolves a student by id.
func (s *DirectoryService) Student(ctx context.Context, id string) (*models.Student, error) {
	key := "directory:student:" + id
	var cached models.Student
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}
	student, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return nil, directoryLookupError(err, "student", id)
	}
	s.cacheSet(ctx, key, student)
	return student, nil
}

func (s *DirectoryService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("directory cache read failed", zap.String("key", key), zap.Error(err))
	}
	return false
}

func (s *DirectoryService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("directory cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func directoryLookupError(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown %s: %s", kind, id))
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to resolve %s", kind))
}
