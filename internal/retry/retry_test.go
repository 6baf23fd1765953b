package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsnav/internal/logger"
)

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	log := logger.New("error")
	r := NewRetryer(&RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, log)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 2 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, "test op")

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	log := logger.New("error")
	r := NewRetryer(DefaultRetryConfig(), log)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("invalid credentials")
	}, "test op")

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	log := logger.New("error")
	r := NewRetryer(&RetryConfig{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond}, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		return errors.New("timeout")
	}, "test op")

	require.Error(t, err)
}
