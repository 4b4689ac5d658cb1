// Package retry runs calls to external collaborators with a per-attempt timeout
// and bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"go.uber.org/zap"
)

// Policy bounds the attempts made by Do.
type Policy struct {
	MaxAttempts int
	Timeout     time.Duration // per attempt; zero means the parent context only
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy allows two attempts with 200ms base backoff capped at 5s.
func DefaultPolicy(timeout time.Duration) Policy {
	return Policy{MaxAttempts: 2, Timeout: timeout, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// AfterError asks the next attempt to wait at least After (e.g. from a Retry-After header).
type AfterError struct {
	After time.Duration
	Err   error
}

func (e *AfterError) Error() string   { return fmt.Sprintf("retry after %s: %v", e.After, e.Err) }
func (e *AfterError) Unwrap() error   { return e.Err }
func (e *AfterError) Temporary() bool { return true }

// StatusError is a non-2xx response from an HTTP collaborator.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("status %d: %s", e.Code, e.Body) }

// Temporary reports whether the status is worth retrying (429 and 5xx).
func (e *StatusError) Temporary() bool { return e.Code == 429 || e.Code >= 500 }

// Delay returns the backoff before attempt+1: BaseDelay << attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 5 * time.Second
	}
	if attempt > 16 {
		return max
	}
	d := base << attempt
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts
// run out. The last error is returned.
func Do(ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = once(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !apperr.IsRetryable(err) || attempt == attempts-1 {
			break
		}
		delay := p.Delay(attempt)
		var after *AfterError
		if errors.As(err, &after) && after.After > delay {
			delay = after.After
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		if logger != nil {
			logger.Debug("retrying collaborator call",
				zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func once(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
