package tool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/permission"
	"github.com/snow-ai/snow/internal/stream"
)

// fakeTool is a scriptable test tool.
type fakeTool struct {
	id       string
	parallel bool
	delay    time.Duration
	output   string
	fail     bool
}

func (f *fakeTool) ID() string                      { return f.id }
func (f *fakeTool) Description() string             { return "fake " + f.id }
func (f *fakeTool) Parameters() json.RawMessage     { return json.RawMessage(`{"type":"object","properties":{}}`) }
func (f *fakeTool) Parallelizable() bool            { return f.parallel }
func (f *fakeTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return &Result{Output: "Cancelled", IsError: true}, nil
		}
	}
	if f.fail {
		return ErrorResult(f.id, "scripted failure"), nil
	}
	return &Result{Title: f.id, Output: f.output}, nil
}

func allowAll(ctx context.Context, req permission.Request) (permission.Decision, error) {
	return permission.Decision{Kind: permission.DecisionAllow}, nil
}

func newTestExecutor(confirm permission.ConfirmerFunc, tools ...Tool) *Executor {
	registry := NewRegistry()
	for _, t := range tools {
		registry.Register(t)
	}
	gate := permission.NewGate(confirm, permission.DefaultRules(), nil)
	return NewExecutor(registry, gate)
}

func call(id, name string) stream.ToolCall {
	return stream.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(`{}`)}
}

func TestExecutor_ResultsInEmissionOrder(t *testing.T) {
	// The slow parallel tool is emitted first; its result must still come
	// first even though the fast one finishes earlier.
	exec := newTestExecutor(allowAll,
		&fakeTool{id: "slow-read", parallel: true, delay: 150 * time.Millisecond, output: "slow"},
		&fakeTool{id: "fast-read", parallel: true, output: "fast"},
	)

	results := exec.Execute(context.Background(), "ses", []stream.ToolCall{
		call("c1", "slow-read"),
		call("c2", "fast-read"),
	}, ExecOptions{})

	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.Equal(t, "slow", results[0].Content)
	assert.Equal(t, "c2", results[1].ToolCallID)
	assert.Equal(t, "fast", results[1].Content)
}

func TestExecutor_SequentialToolsRunInOrder(t *testing.T) {
	var order []string
	registry := NewRegistry()
	for _, id := range []string{"seq-a", "seq-b"} {
		id := id
		registry.Register(&orderedTool{id: id, record: func() { order = append(order, id) }})
	}
	gate := permission.NewGate(permission.ConfirmerFunc(allowAll), permission.DefaultRules(), nil)
	exec := NewExecutor(registry, gate)

	exec.Execute(context.Background(), "ses", []stream.ToolCall{
		call("c1", "seq-a"),
		call("c2", "seq-b"),
	}, ExecOptions{})

	assert.Equal(t, []string{"seq-a", "seq-b"}, order)
}

type orderedTool struct {
	id     string
	record func()
}

func (o *orderedTool) ID() string                  { return o.id }
func (o *orderedTool) Description() string         { return o.id }
func (o *orderedTool) Parameters() json.RawMessage { return json.RawMessage(`{}`) }
func (o *orderedTool) Parallelizable() bool        { return false }
func (o *orderedTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	o.record()
	return &Result{Output: o.id}, nil
}

func TestExecutor_RejectWithReplyProducesSyntheticResult(t *testing.T) {
	decisions := []permission.Decision{
		{Kind: permission.DecisionRejectWithReply, Reply: "not now"},
		{Kind: permission.DecisionAllow},
	}
	i := 0
	exec := newTestExecutor(func(ctx context.Context, req permission.Request) (permission.Decision, error) {
		d := decisions[i]
		i++
		return d, nil
	},
		&fakeTool{id: "one", output: "ran-one"},
		&fakeTool{id: "two", output: "ran-two"},
	)

	results := exec.Execute(context.Background(), "ses", []stream.ToolCall{
		call("c1", "one"),
		call("c2", "two"),
	}, ExecOptions{})

	require.Len(t, results, 2)
	assert.Equal(t, message.StatusRejected, results[0].Status)
	assert.Contains(t, results[0].Content, "not now")
	// The remaining call in the batch still executed.
	assert.Equal(t, "ran-two", results[1].Content)
}

func TestExecutor_AllowlistBlocksWithoutConfirmation(t *testing.T) {
	prompts := 0
	exec := newTestExecutor(func(ctx context.Context, req permission.Request) (permission.Decision, error) {
		prompts++
		return permission.Decision{Kind: permission.DecisionAllow}, nil
	}, &fakeTool{id: "secret", output: "x"})

	results := exec.Execute(context.Background(), "ses", []stream.ToolCall{call("c1", "secret")}, ExecOptions{
		Allowed: func(id string) bool { return false },
	})

	require.Len(t, results, 1)
	assert.Equal(t, message.StatusError, results[0].Status)
	assert.Zero(t, prompts, "blocked call must not consume a confirmation")
}

func TestExecutor_UnknownToolFails(t *testing.T) {
	exec := newTestExecutor(allowAll)
	results := exec.Execute(context.Background(), "ses", []stream.ToolCall{call("c1", "ghost")}, ExecOptions{})
	require.Len(t, results, 1)
	assert.Equal(t, message.StatusError, results[0].Status)
}

func TestExecutor_IncompleteCallIsSoftFailure(t *testing.T) {
	exec := newTestExecutor(allowAll, &fakeTool{id: "t", output: "ran"})

	incomplete := call("c1", "t")
	incomplete.Incomplete = true

	results := exec.Execute(context.Background(), "ses", []stream.ToolCall{incomplete}, ExecOptions{})
	require.Len(t, results, 1)
	assert.Equal(t, message.StatusError, results[0].Status)
	assert.Contains(t, results[0].Content, "incomplete")
}

func TestExecutor_RepairedArgumentsSurfaceWarning(t *testing.T) {
	exec := newTestExecutor(allowAll, &fakeTool{id: "t", output: "ran"})

	repaired := call("c1", "t")
	repaired.Repaired = true

	results := exec.Execute(context.Background(), "ses", []stream.ToolCall{repaired}, ExecOptions{})
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "repaired")
}
