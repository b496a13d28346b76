package stream

import "sort"

// Collector assembles tool-call descriptors from the event sequence of one
// assistant turn. Argument fragments are concatenated per block index; the
// complete descriptor is only defined after the block's ToolCallStop, and
// calls whose stop never arrived are flagged Incomplete.
type Collector struct {
	byIndex map[int]*pendingCall
	order   []int
}

type pendingCall struct {
	index     int
	id        string
	name      string
	fragments []string
	stopped   bool
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{byIndex: make(map[int]*pendingCall)}
}

// Observe feeds one event into the collector.
func (c *Collector) Observe(ev Event) {
	switch e := ev.(type) {
	case ToolCallStart:
		if _, ok := c.byIndex[e.Index]; !ok {
			c.byIndex[e.Index] = &pendingCall{index: e.Index, id: e.ID, name: e.Name}
			c.order = append(c.order, e.Index)
		}
	case ToolCallArgsDelta:
		if p, ok := c.byIndex[e.Index]; ok {
			p.fragments = append(p.fragments, e.PartialJSON)
		}
	case ToolCallStop:
		if p, ok := c.byIndex[e.Index]; ok {
			p.stopped = true
		}
	}
}

// HasCalls reports whether any tool call was observed.
func (c *Collector) HasCalls() bool {
	return len(c.byIndex) > 0
}

// Calls returns the assembled descriptors in emission order.
func (c *Collector) Calls() []ToolCall {
	indices := append([]int(nil), c.order...)
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		p := c.byIndex[idx]
		calls = append(calls, AssembleArguments(p.id, p.name, p.fragments, p.stopped))
	}
	return calls
}
