package blind

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Retry defaults. The backoff is fixed: no growth, no jitter.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 250 * time.Millisecond
)

// RetryPolicy wraps a single transport read or write.
//
//   - soft transient: wait Backoff, force a disconnect, try again
//   - other transport failure: force a disconnect, try again
//   - anything else (not found, characteristic missing, decode, context): return at once
//
// The attempt budget counts the first call. When it is spent the last error is returned.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration

	// Sleep waits for d or until ctx is done. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	logger *logrus.Logger
}

func NewRetryPolicy(attempts int, backoff time.Duration, logger *logrus.Logger) *RetryPolicy {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	if backoff < 0 {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RetryPolicy{
		Attempts: attempts,
		Backoff:  backoff,
		Sleep:    contextSleep,
		logger:   logger,
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the budget is
// spent. disconnect is the recovery action between attempts; its own failure is
// logged and does not stop the retry loop.
func (p *RetryPolicy) Do(ctx context.Context, disconnect func(ctx context.Context) error, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}

		log := p.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   lastErr,
		})

		switch {
		case errors.Is(lastErr, ErrSoftTransient):
			log.Debug("Transient backend error, backing off before reconnect")
			if err := p.Sleep(ctx, p.Backoff); err != nil {
				return err
			}
			p.forceDisconnect(ctx, disconnect)
		case errors.Is(lastErr, ErrTransport):
			log.Debug("Transport error, dropping connection")
			p.forceDisconnect(ctx, disconnect)
		default:
			return lastErr
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	p.logger.WithFields(logrus.Fields{
		"attempts": p.Attempts,
		"error":    lastErr,
	}).Debug("Retry budget exhausted")
	return lastErr
}

func (p *RetryPolicy) forceDisconnect(ctx context.Context, disconnect func(ctx context.Context) error) {
	if disconnect == nil {
		return
	}
	if err := disconnect(ctx); err != nil {
		p.logger.WithField("error", err).Debug("Forced disconnect failed")
	}
}

type permanentError struct {
	Err error
}

func (e *permanentError) Error() string { return e.Err.Error() }
func (e *permanentError) Unwrap() error { return e.Err }

// Permanent marks err so that RetryPolicy.Do returns it (unwrapped) without
// retrying, whatever its kind.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{Err: err}
}

// contextSleep waits for d or until ctx is done, whichever comes first.
func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
