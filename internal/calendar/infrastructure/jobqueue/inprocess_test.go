package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/calendar/application"
)

func TestInProcessQueue_DeliversJobs(t *testing.T) {
	queue := NewInProcessQueue(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := application.Job{
		Kind:     application.JobSyncCalendar,
		TenantID: uuid.New(),
		EntityID: uuid.New(),
	}
	require.NoError(t, queue.Enqueue(ctx, job))
	assert.Equal(t, 1, queue.Len())

	received := make(chan application.Job, 1)
	go func() {
		_ = queue.Consume(ctx, func(_ context.Context, job application.Job) error {
			received <- job
			cancel()
			return nil
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, job.Kind, got.Kind)
		assert.Equal(t, job.EntityID, got.EntityID)
	case <-time.After(time.Second):
		t.Fatal("job was not delivered")
	}
}

func TestInProcessQueue_EnqueueRespectsCancellation(t *testing.T) {
	queue := NewInProcessQueue(1, nil)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, application.Job{Kind: application.JobSyncCalendar}))

	// Buffer full: a cancelled context unblocks the producer.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := queue.Enqueue(cancelled, application.Job{Kind: application.JobSyncCalendar})
	assert.ErrorIs(t, err, context.Canceled)
}
