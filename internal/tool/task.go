package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// SubAgentRunner executes a sub-agent invocation. The session package
// provides the implementation; the indirection keeps the tool layer free of
// the loop's dependencies.
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, profileID, prompt string, toolCtx *Context) (*SubAgentResult, error)
}

// SubAgentResult is a completed sub-agent run.
type SubAgentResult struct {
	Output       string
	InputTokens  int
	OutputTokens int
}

// TaskTool invokes one sub-agent profile as a tool. One instance is
// registered per profile, under the profile's id.
type TaskTool struct {
	profileID   string
	name        string
	description string
	runner      SubAgentRunner
}

// TaskInput represents the input for a sub-agent tool.
type TaskInput struct {
	Prompt string `json:"prompt"`
}

// NewTaskTool creates a sub-agent tool for a profile.
func NewTaskTool(profileID, name, description string, runner SubAgentRunner) *TaskTool {
	return &TaskTool{
		profileID:   profileID,
		name:        name,
		description: description,
		runner:      runner,
	}
}

// SetRunner wires the runner after construction (the session layer is built
// later than the registry).
func (t *TaskTool) SetRunner(runner SubAgentRunner) { t.runner = runner }

func (t *TaskTool) ID() string { return t.profileID }

func (t *TaskTool) Description() string {
	return fmt.Sprintf(`Launches the %q sub-agent: %s

The sub-agent cannot see this conversation. Pack every detail it needs into
the prompt. Its final message is returned as this tool's result.`, t.name, t.description)
}

// Sub-agents run as concurrent cooperative tasks, so multiple invocations in
// one assistant turn execute in parallel.
func (t *TaskTool) Parallelizable() bool { return true }

func (t *TaskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {
				"type": "string",
				"description": "The complete, self-contained task for the sub-agent"
			}
		},
		"required": ["prompt"]
	}`)
}

func (t *TaskTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params TaskInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if t.runner == nil {
		return ErrorResult(t.name, "Sub-agent runner not configured"), nil
	}

	res, err := t.runner.RunSubAgent(ctx, t.profileID, params.Prompt, toolCtx)
	if err != nil {
		return ErrorResult(t.name, fmt.Sprintf("Sub-agent failed: %v", err)), nil
	}

	return &Result{
		Title:  t.name,
		Output: res.Output,
		Metadata: map[string]any{
			"inputTokens":  res.InputTokens,
			"outputTokens": res.OutputTokens,
		},
	}, nil
}
