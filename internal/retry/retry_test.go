package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), nil, "test", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{Code: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), nil, "test", func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 400}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_BoundedAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), nil, "test", func(ctx context.Context) error {
		calls++
		return apperr.New(apperr.KindCompletionServiceUnavailable, "", "down")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, apperr.KindCompletionServiceUnavailable, apperr.KindOf(err))
}

func TestDo_TimeoutIsRetried(t *testing.T) {
	p := fastPolicy(2)
	p.Timeout = 10 * time.Millisecond
	calls := 0
	err := Do(context.Background(), p, nil, "test", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 2, calls)
}

func TestDo_CancelledParentStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_ = Do(ctx, fastPolicy(3), nil, "test", func(ctx context.Context) error {
		calls++
		return ctx.Err()
	})
	assert.Equal(t, 1, calls)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
	assert.Equal(t, 200*time.Millisecond, p.Delay(0))
	assert.Equal(t, 400*time.Millisecond, p.Delay(1))
	assert.Equal(t, 5*time.Second, p.Delay(10))
	assert.Equal(t, 5*time.Second, p.Delay(64))
}
