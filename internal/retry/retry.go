// Package retry runs fallible operations a bounded number of times with a
// fixed delay between attempts.
package retry

import (
	"context"
	"errors"
	"log"
	"time"
)

// Policy bounds a retry loop. Attempts counts the first try.
type Policy struct {
	Attempts int
	Delay    time.Duration
	// Name prefixes the log line written after each failed attempt.
	Name string

	// After is used to wait between attempts; nil means time.After.
	After func(time.Duration) <-chan time.Time
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls op until it succeeds, returns a Permanent error, the attempts are
// used up, or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	after := p.After
	if after == nil {
		after = time.After
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-after(p.Delay):
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if p.Name != "" {
			log.Printf("%s: attempt %d/%d failed: %v", p.Name, attempt+1, attempts, err)
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
