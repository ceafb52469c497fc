package helper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		AttemptTimeout:  50 * time.Millisecond,
	}
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("connection refused")
	_, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	unauthorized := errors.New("401 unauthorized")
	_, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(unauthorized)
	})
	require.Error(t, err)
	assert.Same(t, unauthorized, err)
	assert.Equal(t, 1, calls)
}

func TestRetryAppliesAttemptTimeout(t *testing.T) {
	calls := 0
	start := time.Now()
	_, err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, calls)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetryHonoursParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, fastPolicy(5), "test", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("temporary")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestStableUUID(t *testing.T) {
	a := StableUUID("manual.pdf-1-1")
	assert.Equal(t, a, StableUUID("manual.pdf-1-1"))
	assert.NotEqual(t, a, StableUUID("manual.pdf-1-2"))
	assert.Len(t, a, 36)
}
