// Package retry classifies transient failures and re-runs operations with
// exponential backoff. It is used by worktree push/fetch and the pipeline's
// per-phase retry; sleeps are cancellation-aware so a cancelled context
// never waits out a backoff window.
package retry

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// DefaultMaxAttempts bounds retried network operations (initial try included).
const DefaultMaxAttempts = 3

// transientTerms are substrings that mark a git/network diagnostic as worth
// retrying. Matching is case-insensitive against the full error text.
var transientTerms = []string{"connection", "network", "timeout", "reset", "refused"}

// httpServerErr matches HTTP 5xx status codes embedded in error output.
var httpServerErr = regexp.MustCompile(`\b5\d\d\b`)

// IsTransient reports whether err looks like a recoverable network or
// server-side failure. Nil errors are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, term := range transientTerms {
		if strings.Contains(msg, term) {
			return true
		}
	}
	return httpServerErr.MatchString(msg)
}

// Exponential returns the backoff before retrying after the given attempt:
// 2^(attempt-1) seconds, so 1s, 2s, 4s, ...
func Exponential(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}

// Policy controls how Do retries an operation.
type Policy struct {
	// MaxAttempts is the total number of tries. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// Classify decides whether an error is retryable. Nil means IsTransient.
	Classify func(error) bool

	// Backoff maps an attempt number to the delay before the next try.
	// Nil means Exponential.
	Backoff func(attempt int) time.Duration

	// OnRetry, if set, is called before each backoff sleep with the attempt
	// that just failed and its error.
	OnRetry func(attempt int, err error)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) classify(err error) bool {
	if p.Classify == nil {
		return IsTransient(err)
	}
	return p.Classify(err)
}

func (p Policy) backoff(attempt int) time.Duration {
	if p.Backoff == nil {
		return Exponential(attempt)
	}
	return p.Backoff(attempt)
}

// Do runs op until it succeeds, the error is not retryable, attempts are
// exhausted, or ctx is cancelled. The last error is returned on exhaustion;
// context errors are returned as-is.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	max := p.maxAttempts()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == max || !p.classify(lastErr) {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
		if err := Sleep(ctx, p.backoff(attempt)); err != nil {
			return err
		}
	}

	return lastErr
}

// Sleep blocks for d or until ctx is cancelled, returning the context error
// in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
