package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err  error
		want bool
	}{
		"nil error": {
			err:  nil,
			want: false,
		},
		"connection refused": {
			err:  errors.New("fatal: unable to access remote: Connection refused"),
			want: true,
		},
		"network unreachable": {
			err:  errors.New("network is unreachable"),
			want: true,
		},
		"operation timeout": {
			err:  errors.New("Operation timed out after 120s"),
			want: true,
		},
		"connection reset": {
			err:  errors.New("recv: connection reset by peer"),
			want: true,
		},
		"http 502": {
			err:  errors.New("The requested URL returned error: 502"),
			want: true,
		},
		"http 503 embedded": {
			err:  errors.New("remote: HTTP 503 Service Unavailable"),
			want: true,
		},
		"authentication failure": {
			err:  errors.New("fatal: Authentication failed for 'https://example.com/repo.git'"),
			want: false,
		},
		"merge conflict": {
			err:  errors.New("CONFLICT (content): Merge conflict in main.go"),
			want: false,
		},
		"http 404 not retryable": {
			err:  errors.New("The requested URL returned error: 404"),
			want: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestExponential(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, Exponential(1))
	assert.Equal(t, 2*time.Second, Exponential(2))
	assert.Equal(t, 4*time.Second, Exponential(3))
	// Out-of-range attempts clamp to the first step.
	assert.Equal(t, time.Second, Exponential(0))
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	var retried []int

	policy := Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return 0 },
		OnRetry:     func(attempt int, _ error) { retried = append(retried, attempt) },
	}

	err := Do(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_NonTransientFailsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	policy := Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return 0 },
	}

	err := Do(context.Background(), policy, func(context.Context) error {
		calls++
		return errors.New("fatal: not a git repository")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "not a git repository")
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	policy := Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return 0 },
	}

	err := Do(context.Background(), policy, func(context.Context) error {
		calls++
		return errors.New("network is down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "network is down")
}

func TestDo_ContextCancelledBeforeFirstAttempt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{}, func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	policy := Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Minute },
		OnRetry:     func(int, error) { cancel() },
	}

	start := time.Now()
	err := Do(ctx, policy, func(context.Context) error {
		calls++
		return errors.New("connection timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDo_DefaultsApplied(t *testing.T) {
	t.Parallel()

	// Zero-valued policy classifies with IsTransient and uses three attempts.
	calls := 0
	fast := Policy{Backoff: func(int) time.Duration { return 0 }}

	err := Do(context.Background(), fast, func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
}

func TestSleep_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_ZeroDuration(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Sleep(context.Background(), 0))
}
