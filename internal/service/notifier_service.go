package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-scheduler-api/pkg/config"
	"github.com/noah-isme/lesson-scheduler-api/pkg/jobs"
)

// EventDispatcher is the fire-and-forget outbound event contract consumed
// by the lifecycle services. Implementations must never propagate delivery
// failures back to the caller.
type EventDispatcher interface {
	Dispatch(routingKey string, payload interface{})
}

// EventPublisher is the broker-facing side of the dispatcher.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v interface{}) error
}

type eventJob struct {
	Key     string
	Payload interface{}
}

// NotifierService hands lifecycle events to the notification broker
// asynchronously through a worker queue, so booking operations never block
// on broker I/O.
type NotifierService struct {
	queue     *jobs.Queue
	publisher EventPublisher
	logger    *zap.Logger
}

// NewNotifierService constructs the dispatcher. A nil publisher degrades
// to logging only, which keeps tests and local runs broker-free.
func NewNotifierService(publisher EventPublisher, cfg config.NotifierConfig, logger *zap.Logger) *NotifierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotifierService{publisher: publisher, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the dispatch workers.
func (s *NotifierService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotifierService) Stop() {
	s.queue.Stop()
}

// Dispatch enqueues the event. Failures are logged, never returned: a
// conflict-free booking must not fail because the broker is down.
func (s *NotifierService) Dispatch(routingKey string, payload interface{}) {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    routingKey,
		Payload: eventJob{Key: routingKey, Payload: payload},
	})
	if err != nil {
		s.logger.Warn("dropping lifecycle event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

func (s *NotifierService) handle(ctx context.Context, job jobs.Job) error {
	ev, ok := job.Payload.(eventJob)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	if s.publisher == nil {
		s.logger.Info("event (no broker)", zap.String("routing_key", ev.Key))
		return nil
	}
	return s.publisher.PublishJSON(ctx, ev.Key, ev.Payload)
}
