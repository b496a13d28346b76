package proc

import (
	"sync"
	"time"
)

const (
	// batchSize is how many lines are committed to the UI sink at once.
	batchSize = 5
	// batchIdle flushes a residual batch after this much inactivity.
	batchIdle = 50 * time.Millisecond
)

// LineBatcher groups output lines for the UI sink: full groups of batchSize
// commit immediately, a residual commits after batchIdle of inactivity.
type LineBatcher struct {
	mu      sync.Mutex
	pending []string
	flush   func(lines []string)
	timer   *time.Timer
	closed  bool
}

// NewLineBatcher creates a batcher that delivers batches through flush.
func NewLineBatcher(flush func(lines []string)) *LineBatcher {
	return &LineBatcher{flush: flush}
}

// Add appends a line, committing a full group immediately.
func (b *LineBatcher) Add(line string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, line)

	if len(b.pending) >= batchSize {
		batch := b.pending
		b.pending = nil
		b.stopTimerLocked()
		b.mu.Unlock()
		b.flush(batch)
		return
	}

	b.armTimerLocked()
	b.mu.Unlock()
}

// Close flushes any residual and stops the batcher.
func (b *LineBatcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.stopTimerLocked()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}

func (b *LineBatcher) armTimerLocked() {
	b.stopTimerLocked()
	b.timer = time.AfterFunc(batchIdle, func() {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		batch := b.pending
		b.pending = nil
		b.mu.Unlock()
		if len(batch) > 0 {
			b.flush(batch)
		}
	})
}

func (b *LineBatcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
