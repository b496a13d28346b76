package permission

import (
	"hash/fnv"
	"sync"
)

const (
	// RepeatThreshold is how many identical consecutive calls count as a
	// doom loop.
	RepeatThreshold = 3
	// repeatWindow bounds the per-session fingerprint history.
	repeatWindow = 8
)

// DoomLoopDetector watches for the agent re-issuing the same tool call with
// the same arguments over and over, the signature of a loop on a failing
// call. A flagged call loses its auto-approval and goes back to the user.
type DoomLoopDetector struct {
	mu     sync.Mutex
	recent map[string][]uint64 // sessionID -> recent call fingerprints
}

// NewDoomLoopDetector creates an empty detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{recent: make(map[string][]uint64)}
}

// Observe records the call and reports whether it completes a run of
// RepeatThreshold identical calls in a row. Any different call in between
// breaks the run.
func (d *DoomLoopDetector) Observe(sessionID string, call Call) bool {
	fp := fingerprint(call)

	d.mu.Lock()
	defer d.mu.Unlock()

	history := append(d.recent[sessionID], fp)
	if len(history) > repeatWindow {
		history = history[len(history)-repeatWindow:]
	}
	d.recent[sessionID] = history

	if len(history) < RepeatThreshold {
		return false
	}
	for _, prior := range history[len(history)-RepeatThreshold:] {
		if prior != fp {
			return false
		}
	}
	return true
}

// ClearSession drops a session's history.
func (d *DoomLoopDetector) ClearSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.recent, sessionID)
}

// fingerprint hashes the parts of a call that make it "the same call again":
// tool name, shell command, and raw arguments.
func fingerprint(call Call) uint64 {
	h := fnv.New64a()
	h.Write([]byte(call.Tool))
	h.Write([]byte{0})
	h.Write([]byte(call.Command))
	h.Write([]byte{0})
	h.Write(call.Arguments)
	return h.Sum64()
}
