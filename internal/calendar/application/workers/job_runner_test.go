package workers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(domain.ErrProviderUnavailable))
	assert.True(t, retryable(domain.ErrProviderTimeout))
	assert.True(t, retryable(domain.ErrRateLimited))
	assert.True(t, retryable(domain.ErrSyncAlreadyRunning))
	assert.True(t, retryable(context.DeadlineExceeded))

	assert.False(t, retryable(domain.ErrNotFound))
	assert.False(t, retryable(domain.ErrAuthExpired))
	assert.False(t, retryable(assert.AnError))
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	cap := 2 * time.Minute

	assert.Equal(t, 2*time.Second, backoffDelay(base, cap, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(base, cap, 2))
	assert.Equal(t, 8*time.Second, backoffDelay(base, cap, 3))
	// Growth stops at the cap.
	assert.Equal(t, cap, backoffDelay(base, cap, 10))
}

func TestRunner_CalendarLockIsStable(t *testing.T) {
	runner := NewRunner(nil, nil, nil, nil, nil, DefaultRunnerConfig(), nil)

	a := runner.calendarLock(uuidFor(1))
	b := runner.calendarLock(uuidFor(1))
	c := runner.calendarLock(uuidFor(2))

	assert.Same(t, a, b, "same calendar shares one lock")
	assert.NotSame(t, a, c, "different calendars get distinct locks")
}

func TestRunner_TenantSemaphoreIsStable(t *testing.T) {
	runner := NewRunner(nil, nil, nil, nil, nil, DefaultRunnerConfig(), nil)

	a := runner.tenantSemaphore(uuidFor(7))
	b := runner.tenantSemaphore(uuidFor(7))
	assert.Same(t, a, b)
}

func uuidFor(n byte) uuid.UUID {
	var id uuid.UUID
	id[15] = n
	return id
}
