// Package retry runs side-effecting calls with capped exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Class tells Do whether a failure is worth another attempt.
type Class int

const (
	Transient Class = iota
	Permanent
)

// Policy configures Do.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // wait after the first failure
	MaxDelay    time.Duration // cap for the doubled wait
	Jitter      time.Duration // random extra wait in [0, Jitter)

	// Classify decides whether err is transient. Nil retries every error.
	Classify func(err error) Class

	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy is used for sink calls when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      100 * time.Millisecond,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Backoff returns the wait before attempt+1, without jitter.
// attempt is 1-based.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	wait := p.BaseDelay
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	p = p.withDefaults()

	classify := p.Classify
	if classify == nil {
		classify = func(error) Class { return Transient }
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) == Permanent {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.Backoff(attempt)
		if p.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(p.Jitter)))
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}
