package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/snow-ai/snow/internal/event"
	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/permission"
	"github.com/snow-ai/snow/internal/stream"
)

// Executor dispatches the tool calls of one assistant turn.
type Executor struct {
	registry *Registry
	gate     *permission.Gate
}

// NewExecutor creates an executor over a registry and a permission gate.
func NewExecutor(registry *Registry, gate *permission.Gate) *Executor {
	return &Executor{registry: registry, gate: gate}
}

// Registry returns the executor's registry.
func (e *Executor) Registry() *Registry { return e.registry }

// ExecOptions configures one batch execution.
type ExecOptions struct {
	// Allowed is the per-agent tool allowlist; nil admits every tool. Calls
	// outside the allowlist fail immediately and do not consume a
	// confirmation.
	Allowed func(id string) bool
	// BaseIndex is the session index the first tool-result message will get.
	BaseIndex int
	// MakeContext builds the execution context for one call.
	MakeContext func(call stream.ToolCall, messageIndex int) *Context
	// Gate overrides the executor's permission gate for this batch;
	// sub-agent runs pass their own fresh scope.
	Gate *permission.Gate
}

// Execute runs a batch of tool calls and returns tool-result messages in the
// order the calls were emitted by the assistant, regardless of completion
// order. Parallelizable calls run concurrently; the rest run sequentially in
// emission order. The permission gate is consulted before any execution.
func (e *Executor) Execute(ctx context.Context, sessionID string, calls []stream.ToolCall, opts ExecOptions) []*message.Message {
	n := len(calls)
	results := make([]*Result, n)

	parallel := e.classify(calls, opts.Allowed)
	decisions := e.checkPermissions(ctx, sessionID, calls, parallel, opts, results)

	var group errgroup.Group
	for i := range calls {
		if results[i] != nil || decisions[i] == nil {
			continue
		}
		if !parallel[i] {
			continue
		}
		i := i
		group.Go(func() error {
			results[i] = e.runOne(ctx, calls[i], i, opts)
			return nil
		})
	}

	for i := range calls {
		if results[i] != nil || decisions[i] == nil || parallel[i] {
			continue
		}
		if ctx.Err() != nil {
			results[i] = &Result{Output: "Cancelled", IsError: true}
			continue
		}
		results[i] = e.runOne(ctx, calls[i], i, opts)
	}

	group.Wait()

	out := make([]*message.Message, n)
	for i, call := range calls {
		res := results[i]
		if res == nil {
			res = ErrorResult(call.Name, "tool did not produce a result")
		}
		msg := &message.Message{
			Role:       message.RoleTool,
			ToolCallID: call.ID,
			Content:    res.Output,
			Status:     resultStatus(ctx, res),
		}
		out[i] = msg

		event.Publish(event.Event{
			Type: event.ToolCallFinished,
			Data: event.ToolCallData{
				SessionID: sessionID,
				CallID:    call.ID,
				Tool:      call.Name,
				Output:    res.Output,
				IsError:   res.IsError,
			},
		})
	}
	return out
}

// classify marks calls that may run concurrently: pure-read tools in a batch
// of more than one call.
func (e *Executor) classify(calls []stream.ToolCall, allowed func(string) bool) []bool {
	parallel := make([]bool, len(calls))
	if len(calls) < 2 {
		return parallel
	}
	for i, call := range calls {
		if allowed != nil && !allowed(call.Name) {
			continue
		}
		if t, ok := e.registry.Get(call.Name); ok && t.Parallelizable() {
			parallel[i] = true
		}
	}
	return parallel
}

// checkPermissions consults the gate for every executable call, in emission
// order so confirmation prompts stay serialized. A reject fills the result
// slot; the remaining calls still execute. The returned slice holds a non-nil
// decision for each call that may proceed.
func (e *Executor) checkPermissions(
	ctx context.Context,
	sessionID string,
	calls []stream.ToolCall,
	parallel []bool,
	opts ExecOptions,
	results []*Result,
) []*permission.Decision {
	var batched []string
	for i, call := range calls {
		if parallel[i] {
			batched = append(batched, call.Name)
		}
	}

	decisions := make([]*permission.Decision, len(calls))
	for i, call := range calls {
		if opts.Allowed != nil && !opts.Allowed(call.Name) {
			results[i] = ErrorResult(call.Name, fmt.Sprintf("Tool not available to this agent: %s", call.Name))
			continue
		}
		if _, ok := e.registry.Get(call.Name); !ok {
			results[i] = ErrorResult(call.Name, fmt.Sprintf("Unknown tool: %s", call.Name))
			continue
		}
		if call.Incomplete {
			results[i] = ErrorResult(call.Name, "Tool call arguments were incomplete: the stream ended before they finished. Re-issue the call.")
			continue
		}

		permCall := permission.Call{
			Tool:      call.Name,
			Arguments: call.Arguments,
			Command:   commandOf(call),
		}
		if parallel[i] {
			permCall.BatchedTools = batched
		}

		gate := e.gate
		if opts.Gate != nil {
			gate = opts.Gate
		}
		decision, err := gate.Check(ctx, sessionID, permCall)
		if err != nil {
			// Cancellation or a failed confirmer; neither executes.
			results[i] = &Result{Output: "Cancelled", IsError: true}
			continue
		}

		switch decision.Kind {
		case permission.DecisionAllow:
			d := decision
			decisions[i] = &d
		case permission.DecisionRejectWithReply:
			results[i] = &Result{
				Output:  fmt.Sprintf("The user rejected this tool call with the reply: %q", decision.Reply),
				IsError: true,
				Status:  message.StatusRejected,
			}
		default:
			results[i] = &Result{Output: "The user rejected this tool call.", IsError: true, Status: message.StatusRejected}
		}
	}
	return decisions
}

// runOne executes a single approved call; pos is the call's position in the
// batch, which fixes the index its result message will occupy.
func (e *Executor) runOne(ctx context.Context, call stream.ToolCall, pos int, opts ExecOptions) *Result {
	t, _ := e.registry.Get(call.Name)

	var toolCtx *Context
	if opts.MakeContext != nil {
		toolCtx = opts.MakeContext(call, opts.BaseIndex+pos)
	} else {
		toolCtx = &Context{CallID: call.ID}
	}

	res, err := t.Execute(ctx, call.Arguments, toolCtx)
	if err != nil {
		logging.Warn().Str("tool", call.Name).Err(err).Msg("tool handler failed")
		return ErrorResult(call.Name, err.Error())
	}
	if res == nil {
		return ErrorResult(call.Name, "tool returned no result")
	}
	if call.Repaired && !res.IsError {
		res.Output += "\n\n(Warning: the tool arguments arrived malformed and were repaired before execution.)"
	}
	return res
}

// commandOf extracts the shell command for terminal-execute calls so the
// sensitive classifier can inspect it.
func commandOf(call stream.ToolCall) string {
	if call.Name != "terminal-execute" {
		return ""
	}
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	return args.Command
}

func resultStatus(ctx context.Context, res *Result) string {
	if res.Status != "" {
		return res.Status
	}
	if ctx.Err() != nil && res.IsError && res.Output == "Cancelled" {
		return message.StatusCancelled
	}
	if res.IsError {
		return message.StatusError
	}
	return message.StatusOK
}
