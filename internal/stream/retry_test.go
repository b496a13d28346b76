package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFactory yields the scripted outcomes attempt by attempt.
type scriptedFactory struct {
	attempts []scriptedAttempt
	calls    int
}

type scriptedAttempt struct {
	events []Event
	err    error
}

func (f *scriptedFactory) factory(ctx context.Context) (<-chan Event, <-chan Result, error) {
	attempt := f.attempts[f.calls]
	f.calls++

	events := make(chan Event, len(attempt.events)+1)
	for _, ev := range attempt.events {
		events <- ev
	}
	close(events)

	result := make(chan Result, 1)
	result <- Result{Err: attempt.err}
	return events, result, nil
}

// runFast runs Run under a 30-second deadline so a stuck retry loop fails the
// test instead of hanging it. Backoff delays are real.
func runFast(t *testing.T, f *scriptedFactory, opts RetryOptions, emit func(Event) error) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return Run(ctx, f.factory, opts, emit)
}

func TestRun_SucceedsFirstAttempt(t *testing.T) {
	f := &scriptedFactory{attempts: []scriptedAttempt{
		{events: []Event{ContentDelta{Text: "hi"}, Done{}}},
	}}

	var got []Event
	err := runFast(t, f, RetryOptions{}, func(ev Event) error {
		got = append(got, ev)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, []Event{ContentDelta{Text: "hi"}, Done{}}, got)
}

func TestRun_RetriesIdleTimeoutBeforeEvents(t *testing.T) {
	f := &scriptedFactory{attempts: []scriptedAttempt{
		{err: ErrIdleTimeout},
		{events: []Event{Done{}}},
	}}

	var retries []int
	err := runFast(t, f, RetryOptions{
		OnRetry: func(attempt int, delay time.Duration, cause error) {
			retries = append(retries, attempt)
			assert.True(t, errors.Is(cause, ErrIdleTimeout))
		},
	}, func(Event) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, []int{1}, retries)
}

func TestRun_FatalErrorDoesNotRetry(t *testing.T) {
	fatal := &HTTPError{StatusCode: 401, Body: "unauthorized"}
	f := &scriptedFactory{attempts: []scriptedAttempt{
		{err: fatal},
		{events: []Event{Done{}}},
	}}

	err := runFast(t, f, RetryOptions{}, func(Event) error { return nil })

	require.Error(t, err)
	assert.Equal(t, 1, f.calls)
}

func TestRun_MidStreamFailureRequiresOptIn(t *testing.T) {
	f := &scriptedFactory{attempts: []scriptedAttempt{
		{events: []Event{ContentDelta{Text: "partial"}}, err: ErrIdleTimeout},
		{events: []Event{Done{}}},
	}}

	err := runFast(t, f, RetryOptions{ResumeAfterEvents: false}, func(Event) error { return nil })

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIdleTimeout))
	assert.Equal(t, 1, f.calls)
}

func TestRun_MidStreamIdleTimeoutResumesWhenOptedIn(t *testing.T) {
	f := &scriptedFactory{attempts: []scriptedAttempt{
		{events: []Event{ContentDelta{Text: "partial"}}, err: ErrIdleTimeout},
		{events: []Event{ContentDelta{Text: "full"}, Done{}}},
	}}

	err := runFast(t, f, RetryOptions{ResumeAfterEvents: true}, func(Event) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestRun_MidStreamNonResumableNeverRetries(t *testing.T) {
	f := &scriptedFactory{attempts: []scriptedAttempt{
		{events: []Event{ContentDelta{Text: "partial"}}, err: &HTTPError{StatusCode: 500}},
		{events: []Event{Done{}}},
	}}

	err := runFast(t, f, RetryOptions{ResumeAfterEvents: true}, func(Event) error { return nil })

	require.Error(t, err)
	assert.Equal(t, 1, f.calls)
}

func TestRun_StopsAfterMaxAttempts(t *testing.T) {
	var attempts []scriptedAttempt
	for i := 0; i < MaxAttempts+2; i++ {
		attempts = append(attempts, scriptedAttempt{err: ErrIdleTimeout})
	}
	f := &scriptedFactory{attempts: attempts}

	start := time.Now()
	err := runFast(t, f, RetryOptions{}, func(Event) error { return nil })
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, MaxAttempts, f.calls)
	// Backoff delays are real: base 1s, so at least a few seconds passed.
	assert.Greater(t, elapsed, 3*time.Second)
}

func TestRun_CancellationInterruptsDelay(t *testing.T) {
	f := &scriptedFactory{attempts: []scriptedAttempt{
		{err: ErrIdleTimeout},
		{events: []Event{Done{}}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Run(ctx, f.factory, RetryOptions{}, func(Event) error { return nil })

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Second)
}

func TestDefaultClassifier(t *testing.T) {
	assert.True(t, DefaultClassifier(ErrIdleTimeout))
	assert.True(t, DefaultClassifier(ErrIncomplete))
	assert.True(t, DefaultClassifier(&HTTPError{StatusCode: 429}))
	assert.True(t, DefaultClassifier(&HTTPError{StatusCode: 503}))
	assert.False(t, DefaultClassifier(&HTTPError{StatusCode: 400}))
	assert.False(t, DefaultClassifier(&HTTPError{StatusCode: 404}))
	assert.False(t, DefaultClassifier(context.Canceled))
	assert.False(t, DefaultClassifier(nil))
}
