package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

func TestMemoryLimiter_AllowsUpToBurst(t *testing.T) {
	limiter := NewMemoryLimiter(Limits{
		ReadPerMinute:  10,
		WritePerMinute: 5,
		ReadMaxDelay:   10 * time.Millisecond,
		WriteMaxDelay:  10 * time.Millisecond,
	})
	key := Key{Provider: domain.ProviderGoogle, AccountID: "acct-1"}

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Acquire(context.Background(), key, ClassRead), "call %d", i)
	}
}

func TestMemoryLimiter_ExhaustionFailsWithRateLimited(t *testing.T) {
	limiter := NewMemoryLimiter(Limits{
		ReadPerMinute:  1,
		WritePerMinute: 1,
		ReadMaxDelay:   5 * time.Millisecond,
		WriteMaxDelay:  5 * time.Millisecond,
	})
	key := Key{Provider: domain.ProviderGoogle, AccountID: "acct-1"}

	require.NoError(t, limiter.Acquire(context.Background(), key, ClassWrite))

	// The bucket refills at 1/min: the bounded wait cannot cover it.
	err := limiter.Acquire(context.Background(), key, ClassWrite)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestMemoryLimiter_BucketsAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(Limits{
		ReadPerMinute:  1,
		WritePerMinute: 1,
		ReadMaxDelay:   5 * time.Millisecond,
		WriteMaxDelay:  5 * time.Millisecond,
	})
	a := Key{Provider: domain.ProviderGoogle, AccountID: "acct-a"}
	b := Key{Provider: domain.ProviderGoogle, AccountID: "acct-b"}

	require.NoError(t, limiter.Acquire(context.Background(), a, ClassWrite))
	// Exhausting account A leaves account B untouched, and the read class
	// of account A too.
	require.NoError(t, limiter.Acquire(context.Background(), b, ClassWrite))
	require.NoError(t, limiter.Acquire(context.Background(), a, ClassRead))
}

func TestMemoryLimiter_ContextCancellation(t *testing.T) {
	limiter := NewMemoryLimiter(Limits{
		ReadPerMinute: 1,
		ReadMaxDelay:  time.Second,
	})
	key := Key{Provider: domain.ProviderMicrosoft, AccountID: "acct-1"}
	require.NoError(t, limiter.Acquire(context.Background(), key, ClassRead))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := limiter.Acquire(ctx, key, ClassRead)
	assert.ErrorIs(t, err, context.Canceled)
}
