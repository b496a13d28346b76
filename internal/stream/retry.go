package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/snow-ai/snow/internal/logging"
)

const (
	// MaxAttempts is the total number of attempts (initial + retries).
	MaxAttempts = 5
	// RetryInitialInterval is the initial backoff delay.
	RetryInitialInterval = time.Second
	// RetryMaxInterval caps the backoff delay.
	RetryMaxInterval = 30 * time.Second
	// RetryJitter is the randomization factor (±20%).
	RetryJitter = 0.2
)

// HTTPError is a transport-level failure with a status code, produced by
// provider adapters so the classifier can tell 429/5xx from the fatal 4xx.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, truncateForLog(e.Body))
}

// Factory produces a fresh event stream for one attempt.
type Factory func(ctx context.Context) (<-chan Event, <-chan Result, error)

// OnRetry is invoked before each retry delay with the 1-based attempt number
// that just failed, the upcoming delay, and the failure.
type OnRetry func(attempt int, delay time.Duration, err error)

// Classifier reports whether an error is retriable.
type Classifier func(err error) bool

// RetryOptions configures a retry run.
type RetryOptions struct {
	// ResumeAfterEvents opts in to retrying idle-timeout / incomplete-stream
	// failures that occur after events were already delivered. Any other
	// mid-stream failure always propagates.
	ResumeAfterEvents bool
	// Classify overrides the default retriability classifier.
	Classify Classifier
	// OnRetry is the retry notification callback.
	OnRetry OnRetry
}

// DefaultClassifier implements the spec's retriable set: network errors,
// 5xx, 429, idle timeout, incomplete stream, DNS failure.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrIdleTimeout) || errors.Is(err, ErrIncomplete) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 {
			return true
		}
		if httpErr.StatusCode >= 500 {
			return true
		}
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// isResumable reports whether a mid-stream failure may be retried at all.
func isResumable(err error) bool {
	return errors.Is(err, ErrIdleTimeout) || errors.Is(err, ErrIncomplete)
}

func newRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.RandomizationFactor = RetryJitter
	b.Multiplier = 2.0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run drives the factory until one stream completes, forwarding its events to
// emit. On a retriable failure before any event was emitted it waits an
// exponentially backed-off delay and retries, up to MaxAttempts total. Retry
// delays are interruptible by ctx. emit returning an error aborts the run.
func Run(ctx context.Context, factory Factory, opts RetryOptions, emit func(Event) error) error {
	classify := opts.Classify
	if classify == nil {
		classify = DefaultClassifier
	}

	bo := newRetryBackoff()

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		emittedThisAttempt, err := runOnce(ctx, factory, emit)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return err
		}
		if !classify(err) {
			return err
		}
		if emittedThisAttempt && (!opts.ResumeAfterEvents || !isResumable(err)) {
			return err
		}
		if attempt == MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}

		logging.Warn().
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying provider stream")

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("stream failed after %d attempts: %w", MaxAttempts, lastErr)
}

// runOnce executes a single attempt, reporting whether any event was emitted.
func runOnce(ctx context.Context, factory Factory, emit func(Event) error) (bool, error) {
	events, result, err := factory(ctx)
	if err != nil {
		return false, err
	}

	emitted := false
	for ev := range events {
		emitted = true
		if err := emit(ev); err != nil {
			// Drain so the producing goroutine can finish.
			for range events {
			}
			<-result
			return emitted, err
		}
	}

	res := <-result
	return emitted, res.Err
}
