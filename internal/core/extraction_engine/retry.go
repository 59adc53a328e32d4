package extraction_engine

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy governs re-attempts of a single chunk extraction. Backoff is
// linear in the attempt number. Sleep is injectable so tests run instantly.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the extraction service's rate behaviour: three
// attempts with 2s, 4s waits between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// ApplyDefaults fills zero-valued fields so a partially specified policy is
// still usable.
func (p RetryPolicy) ApplyDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// Backoff returns the wait before the given 1-based attempt's re-run.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return time.Duration(attempt) * p.BaseDelay
}

// Do runs fn up to MaxAttempts times, sleeping Backoff(attempt) between
// failures. A non-retryable ExtractionError or a cancelled context stops
// immediately. The last error is returned when all attempts fail.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.ApplyDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var extErr *ExtractionError
		if errors.As(lastErr, &extErr) && !extErr.Retryable() {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.Sleep(ctx, p.Backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
