package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/snow-ai/snow/internal/logging"
)

const (
	// DefaultIdleTimeout is how long the decoder waits without any bytes
	// before failing the stream.
	DefaultIdleTimeout = 180 * time.Second

	// eventBuffer bounds the decoder's output channel.
	eventBuffer = 64

	// residualPreviewLen caps the buffer preview attached to an
	// incomplete-stream failure.
	residualPreviewLen = 200
)

var (
	// ErrIdleTimeout is returned when no bytes arrive within the idle window.
	ErrIdleTimeout = errors.New("stream idle timeout")
	// ErrIncomplete is returned when the transport ends with undelivered data.
	ErrIncomplete = errors.New("stream terminated incomplete")
)

// IncompleteError wraps ErrIncomplete with diagnostic context.
type IncompleteError struct {
	Events        int
	LastEventName string
	BufferPreview string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("stream terminated incomplete after %d events (last %q, residual %q)",
		e.Events, e.LastEventName, e.BufferPreview)
}

func (e *IncompleteError) Unwrap() error { return ErrIncomplete }

// RawEvent is one decoded SSE record: an event name and its data payload.
type RawEvent struct {
	Name string
	Data json.RawMessage
}

// Translator converts a provider-specific SSE record into zero or more
// normalized events. Returning (nil, true) finishes the stream.
type Translator func(raw RawEvent) (events []Event, done bool)

// Decoder reads an SSE byte stream and yields normalized events.
type Decoder struct {
	idleTimeout time.Duration
	translate   Translator
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithIdleTimeout overrides the idle timeout.
func WithIdleTimeout(d time.Duration) DecoderOption {
	return func(dec *Decoder) { dec.idleTimeout = d }
}

// NewDecoder creates a decoder using the given translator.
func NewDecoder(translate Translator, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		idleTimeout: DefaultIdleTimeout,
		translate:   translate,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Result is the terminal state of a decode run.
type Result struct {
	Err error
}

// Decode consumes r until the stream finishes, the context is cancelled, or
// the idle timeout fires. Normalized events are delivered on the returned
// channel, which is closed when decoding ends; the error (nil on success) is
// delivered on the result channel.
//
// On cancellation the decoder abandons event delivery but keeps draining the
// transport so the socket can close gracefully; events produced after
// abandonment are dropped.
func (d *Decoder) Decode(ctx context.Context, r io.Reader) (<-chan Event, <-chan Result) {
	events := make(chan Event, eventBuffer)
	result := make(chan Result, 1)

	go func() {
		err := d.run(ctx, r, events)
		close(events)
		result <- Result{Err: err}
	}()

	return events, result
}

// lineRead is one newline-delimited chunk from the transport.
type lineRead struct {
	line string
	err  error
}

func (d *Decoder) run(ctx context.Context, r io.Reader, events chan<- Event) error {
	lines := make(chan lineRead)
	go readLines(r, lines)

	// If decoding ends before the transport does (idle timeout, translator
	// done), keep draining lines so the reader goroutine can finish once the
	// caller closes the transport.
	defer func() {
		go func() {
			for range lines {
			}
		}()
	}()

	var (
		eventName string
		residual  string
		emitted   int
		lastName  string
		abandoned bool
	)

	timer := time.NewTimer(d.idleTimeout)
	defer timer.Stop()

	// cancelled is nilled after it fires so the select does not spin on it
	// while the transport drains.
	cancelled := ctx.Done()

	emit := func(evs []Event) {
		if abandoned {
			return
		}
		for _, ev := range evs {
			select {
			case events <- ev:
				emitted++
			case <-ctx.Done():
				abandoned = true
				return
			}
		}
	}

	for {
		select {
		case <-cancelled:
			// Abandon yielded events but keep draining the transport.
			abandoned = true
			cancelled = nil
		case <-timer.C:
			return ErrIdleTimeout
		case lr, ok := <-lines:
			if !ok {
				lr.err = io.EOF
			}
			if lr.err != nil {
				if abandoned {
					return ctx.Err()
				}
				if lr.err == io.EOF {
					if strings.TrimSpace(residual) != "" || eventName != "" {
						preview := residual
						if preview == "" {
							preview = "event: " + eventName
						}
						if len(preview) > residualPreviewLen {
							preview = preview[:residualPreviewLen]
						}
						return &IncompleteError{
							Events:        emitted,
							LastEventName: lastName,
							BufferPreview: preview,
						}
					}
					return &IncompleteError{
						Events:        emitted,
						LastEventName: lastName,
						BufferPreview: "(eof before done)",
					}
				}
				return lr.err
			}

			// Every read re-arms the idle guard.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idleTimeout)

			line := strings.TrimRight(lr.line, "\r")
			residual = ""

			switch {
			case line == "":
				eventName = ""
			case strings.HasPrefix(line, ":"):
				// Comment lines are ignored.
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "[DONE]" {
					if !abandoned {
						emit([]Event{Done{}})
					}
					return nil
				}
				if !json.Valid([]byte(data)) {
					logging.Warn().Str("data", truncateForLog(data)).Msg("skipping malformed stream data line")
					continue
				}
				lastName = eventName
				residual = ""
				if abandoned {
					continue
				}
				evs, done := d.translate(RawEvent{Name: eventName, Data: json.RawMessage(data)})
				emit(evs)
				if done {
					return nil
				}
			default:
				// Unknown field; remember it so a truncated tail is diagnosable.
				residual = line
			}
		}
	}
}

// readLines splits the byte stream on newlines, decoding UTF-8 with boundary
// continuity (a multi-byte rune split across reads is never mangled because
// bufio accumulates bytes until the delimiter).
func readLines(r io.Reader, out chan<- lineRead) {
	reader := bufio.NewReader(r)
	var pending []byte
	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			pending = append(pending, chunk...)
			if pending[len(pending)-1] == '\n' {
				line := strings.TrimSuffix(string(pending), "\n")
				pending = nil
				out <- lineRead{line: line}
			}
		}
		if err != nil {
			if len(pending) > 0 && utf8.Valid(pending) {
				out <- lineRead{line: string(pending)}
			}
			out <- lineRead{err: err}
			close(out)
			return
		}
	}
}

func truncateForLog(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
