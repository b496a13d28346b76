package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/stream"
)

// AnthropicClient adapts the Anthropic SDK's streaming API to the normalized
// event model.
type AnthropicClient struct {
	client anthropic.Client
}

// AnthropicConfig configures the adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// NewAnthropicClient creates an Anthropic adapter.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...)}
}

// ID implements Client.
func (c *AnthropicClient) ID() string { return "anthropic" }

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request) (<-chan stream.Event, <-chan stream.Result, error) {
	params, err := encodeRequest(req)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan stream.Event, 64)
	result := make(chan stream.Result, 1)

	go func() {
		defer close(events)
		result <- stream.Result{Err: c.run(ctx, params, events)}
	}()

	return events, result, nil
}

func (c *AnthropicClient) run(ctx context.Context, params *anthropic.MessageNewParams, events chan<- stream.Event) error {
	sse := c.client.Messages.NewStreaming(ctx, *params)
	defer sse.Close()

	emit := func(ev stream.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Tool blocks by content index so stop events can be attributed.
	toolIndex := make(map[int]bool)

	for sse.Next() {
		ev := sse.Current()
		switch ev.Type {
		case "message_start":
			start := ev.AsMessageStart()
			usage := &stream.Usage{
				InputTokens:  int(start.Message.Usage.InputTokens),
				OutputTokens: int(start.Message.Usage.OutputTokens),
			}
			if !emit(stream.MessageStart{Usage: usage}) {
				return ctx.Err()
			}
		case "content_block_start":
			blockStart := ev.AsContentBlockStart()
			idx := int(blockStart.Index)
			switch blockStart.ContentBlock.Type {
			case "tool_use":
				toolUse := blockStart.ContentBlock.AsToolUse()
				toolIndex[idx] = true
				if !emit(stream.ToolCallStart{Index: idx, ID: toolUse.ID, Name: toolUse.Name}) {
					return ctx.Err()
				}
			case "thinking":
				if !emit(stream.ReasoningStarted{}) {
					return ctx.Err()
				}
			}
		case "content_block_delta":
			blockDelta := ev.AsContentBlockDelta()
			idx := int(blockDelta.Index)
			delta := blockDelta.Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !emit(stream.ContentDelta{Text: delta.Text}) {
					return ctx.Err()
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && !emit(stream.ToolCallArgsDelta{Index: idx, PartialJSON: delta.PartialJSON}) {
					return ctx.Err()
				}
			case "thinking_delta":
				if delta.Thinking != "" && !emit(stream.ReasoningDelta{Text: delta.Thinking}) {
					return ctx.Err()
				}
			case "signature_delta":
				if delta.Signature != "" && !emit(stream.ReasoningSignatureDelta{Data: delta.Signature}) {
					return ctx.Err()
				}
			}
		case "content_block_stop":
			blockStop := ev.AsContentBlockStop()
			idx := int(blockStop.Index)
			if toolIndex[idx] {
				delete(toolIndex, idx)
				if !emit(stream.ToolCallStop{Index: idx}) {
					return ctx.Err()
				}
			}
		case "message_delta":
			msgDelta := ev.AsMessageDelta()
			md := stream.MessageDelta{
				StopReason: string(msgDelta.Delta.StopReason),
				Usage: &stream.Usage{
					OutputTokens: int(msgDelta.Usage.OutputTokens),
				},
			}
			if !emit(md) {
				return ctx.Err()
			}
		case "message_stop":
			if !emit(stream.Done{}) {
				return ctx.Err()
			}
			return nil
		}
	}

	if err := sse.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	// The SDK iterator ended without a message_stop.
	return stream.ErrIncomplete
}

// encodeRequest translates the normalized request into SDK params.
func encodeRequest(req *Request) (*anthropic.MessageNewParams, error) {
	if req.Options.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Options.Model),
		MaxTokens: int64(maxTokens),
		Messages:  encodeMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Options.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Options.Temperature)
	}
	if t := req.Options.Thinking; t != nil && t.Enabled && t.BudgetTokens > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(t.BudgetTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	return &params, nil
}

func encodeMessages(msgs []*message.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case message.RoleUser, message.RoleSystem:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, img := range m.Images {
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Data))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case message.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					logging.Warn().Str("callId", tc.ID).Err(err).Msg("tool call arguments not re-encodable")
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case message.RoleTool:
			isError := m.Status == message.StatusError
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isError),
			))
		}
	}
	return out
}

func encodeTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				logging.Warn().Str("tool", def.Name).Err(err).Msg("tool schema not encodable")
			}
		}
		u := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = anthropic.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}
