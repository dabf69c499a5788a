package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// DelayFor
// ---------------------------------------------------------------------------

func TestDelayFor_ExponentialGrowth(t *testing.T) {
	p := Policy{BaseDelay: 1 * time.Second, Multiplier: 2.0, MaxAttempts: 5}
	require.Equal(t, 1*time.Second, p.DelayFor(0))
	require.Equal(t, 2*time.Second, p.DelayFor(1))
	require.Equal(t, 4*time.Second, p.DelayFor(2))
}

func TestDelayFor_CappedAtMaxDelay(t *testing.T) {
	p := Policy{BaseDelay: 1 * time.Second, Multiplier: 2.0, MaxDelay: 3 * time.Second}
	require.Equal(t, 1*time.Second, p.DelayFor(0))
	require.Equal(t, 2*time.Second, p.DelayFor(1))
	require.Equal(t, 3*time.Second, p.DelayFor(2))
	require.Equal(t, 3*time.Second, p.DelayFor(10))
}

// ---------------------------------------------------------------------------
// Do
// ---------------------------------------------------------------------------

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var delays []time.Duration
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Multiplier:  2.0,
		OnRetry: func(_ error, _ int, d time.Duration) {
			delays = append(delays, d)
		},
	}
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("persistent failure")
	calls := 0
	var delays []time.Duration
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  2.0,
		OnRetry: func(_ error, _ int, d time.Duration) {
			delays = append(delays, d)
		},
	}
	err := p.Do(context.Background(), func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
	// no sleep after the final attempt
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDo_SingleAttemptNoDelay(t *testing.T) {
	calls := 0
	retries := 0
	p := Policy{
		MaxAttempts: 1,
		BaseDelay:   time.Second,
		OnRetry:     func(error, int, time.Duration) { retries++ },
	}
	start := time.Now()
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("nope")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 0, retries)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}
	err := p.Do(context.Background(), func() error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestDo_MaxElapsedStopsBeforeSleep(t *testing.T) {
	calls := 0
	retries := 0
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		MaxElapsed:  10 * time.Millisecond,
		OnRetry:     func(error, int, time.Duration) { retries++ },
	}
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("slow failure")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 0, retries)
}

func TestDo_ContextCanceledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second}
	err := p.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDo_JitterStaysWithinBounds(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts: 2,
		BaseDelay:   4 * time.Millisecond,
		Jitter:      true,
		OnRetry: func(_ error, _ int, d time.Duration) {
			delays = append(delays, d)
		},
	}
	_ = p.Do(context.Background(), func() error { return errors.New("transient") })
	require.Len(t, delays, 1)
	require.GreaterOrEqual(t, delays[0], 2*time.Millisecond)
	require.LessOrEqual(t, delays[0], 4*time.Millisecond)
}

func TestDo_DefaultsApplied(t *testing.T) {
	p := Policy{}.normalized()
	require.Equal(t, defaultMaxAttempts, p.MaxAttempts)
	require.Equal(t, defaultBaseDelay, p.BaseDelay)
	require.Equal(t, defaultMultiplier, p.Multiplier)
}
