package retry

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	defaultMultiplier  = 2.0
)

// Policy describes a bounded exponential-backoff retry schedule. It is the
// single retry authority for the module: both the low-level client and the
// completion adapter run their attempts through Policy.Do with different
// eligibility predicates.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry attempt.
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier controls backoff growth (2.0 = double each retry).
	Multiplier float64

	// MaxElapsed bounds the total time spent inside Do, sleeps included.
	// Zero means unbounded.
	MaxElapsed time.Duration

	// Jitter randomizes each delay within [delay/2, delay] to avoid
	// synchronized retries from concurrent callers.
	Jitter bool

	// Retryable reports whether an attempt error is eligible for another
	// attempt. A nil predicate retries every error.
	Retryable func(err error) bool

	// OnRetry is invoked before sleeping for a retry attempt.
	OnRetry func(err error, attempt int, delay time.Duration)
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = defaultMultiplier
	}
	return p
}

// DelayFor returns the delay scheduled after the given zero-based attempt,
// before jitter: BaseDelay * Multiplier^attempt, capped at MaxDelay.
func (p Policy) DelayFor(attempt int) time.Duration {
	p = p.normalized()
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d <= 0 {
			// overflow guard
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, exhausts MaxAttempts, hits MaxElapsed, fails
// the Retryable predicate, or the context is canceled. The last attempt error
// is returned unchanged so callers can classify it; a cancellation during a
// sleep returns ctx.Err().
func (p Policy) Do(ctx context.Context, fn func() error) error {
	p = p.normalized()
	start := time.Now()

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts-1 {
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		delay := p.DelayFor(attempt)
		if p.Jitter && delay > 0 {
			delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2+1)))
		}
		if p.MaxElapsed > 0 && time.Since(start)+delay >= p.MaxElapsed {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
