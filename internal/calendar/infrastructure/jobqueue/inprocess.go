package jobqueue

import (
	"context"
	"log/slog"

	"github.com/meridianhq/meridian/internal/calendar/application"
)

// InProcessQueue is a channel-backed queue for local mode and tests.
type InProcessQueue struct {
	jobs   chan application.Job
	logger *slog.Logger
}

// NewInProcessQueue creates an in-process queue with the given buffer.
func NewInProcessQueue(buffer int, logger *slog.Logger) *InProcessQueue {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessQueue{
		jobs:   make(chan application.Job, buffer),
		logger: logger,
	}
}

// Enqueue adds a job, blocking when the buffer is full.
func (q *InProcessQueue) Enqueue(ctx context.Context, job application.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
		q.logger.Debug("job enqueued", "kind", string(job.Kind), "entity_id", job.EntityID)
		return nil
	}
}

// Consume delivers jobs to the handler until the context ends.
func (q *InProcessQueue) Consume(ctx context.Context, handler func(ctx context.Context, job application.Job) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-q.jobs:
			if err := handler(ctx, job); err != nil {
				q.logger.Warn("job handling failed", "kind", string(job.Kind), "error", err)
			}
		}
	}
}

// Len reports the queued job count. Test helper.
func (q *InProcessQueue) Len() int { return len(q.jobs) }
