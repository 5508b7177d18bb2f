package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, uint(3), cfg.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Delay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
}

func TestToRetryOptions_RetriesUntilAttemptsExhausted(t *testing.T) {
	cfg := &RetryConfig{Attempts: 3, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	boom := errors.New("boom")

	calls := 0
	err := retry.Do(func() error {
		calls++
		return boom
	}, cfg.ToRetryOptions(context.Background())...)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestToRetryOptions_StopsOnCancelledContext(t *testing.T) {
	cfg := &RetryConfig{Attempts: 10, Delay: time.Second, MaxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	start := time.Now()
	err := retry.Do(func() error {
		calls++
		return errors.New("boom")
	}, cfg.ToRetryOptions(ctx)...)

	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
