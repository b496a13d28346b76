package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/stream"
)

// OpenAIClient speaks the OpenAI-compatible chat-completions SSE protocol
// using the runtime's stream decoder for the response side. It serves any
// endpoint implementing that protocol (OpenAI, local gateways, proxies).
type OpenAIClient struct {
	id      string
	baseURL string
	apiKey  string
	http    *http.Client
	decOpts []stream.DecoderOption
}

// OpenAIConfig configures the adapter.
type OpenAIConfig struct {
	// ID overrides the adapter id (default "openai"); useful when several
	// compatible endpoints are registered.
	ID      string
	BaseURL string
	APIKey  string
	// IdleTimeout overrides the decoder's idle timeout.
	IdleTimeout time.Duration
}

// NewOpenAIClient creates an OpenAI-compatible adapter.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	id := cfg.ID
	if id == "" {
		id = "openai"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	var decOpts []stream.DecoderOption
	if cfg.IdleTimeout > 0 {
		decOpts = append(decOpts, stream.WithIdleTimeout(cfg.IdleTimeout))
	}
	return &OpenAIClient{
		id:      id,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{},
		decOpts: decOpts,
	}
}

// ID implements Client.
func (c *OpenAIClient) ID() string { return c.id }

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request) (<-chan stream.Event, <-chan stream.Result, error) {
	body, err := json.Marshal(c.encodeRequest(req))
	if err != nil {
		return nil, nil, fmt.Errorf("openai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if req.Options.UserID != "" {
		httpReq.Header.Set("X-User-Id", req.Options.UserID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, nil, &stream.HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	translator := newChatTranslator()
	decoder := stream.NewDecoder(translator.translate, c.decOpts...)
	events, result := decoder.Decode(ctx, resp.Body)

	// Wrap the result so the body closes when decoding ends.
	wrapped := make(chan stream.Result, 1)
	go func() {
		res := <-result
		resp.Body.Close()
		wrapped <- res
	}()

	return events, wrapped, nil
}

// chatChunk is the wire shape of one chat-completions stream chunk.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// chatTranslator converts chat chunks to normalized events. The protocol has
// no explicit tool-call stop; open calls are stopped when the finish reason
// arrives.
type chatTranslator struct {
	started   bool
	reasoning bool
	openTools map[int]bool
}

func newChatTranslator() *chatTranslator {
	return &chatTranslator{openTools: make(map[int]bool)}
}

func (t *chatTranslator) translate(raw stream.RawEvent) ([]stream.Event, bool) {
	var chunk chatChunk
	if err := json.Unmarshal(raw.Data, &chunk); err != nil {
		return nil, false
	}

	var out []stream.Event
	if !t.started {
		t.started = true
		out = append(out, stream.MessageStart{})
	}

	if chunk.Usage != nil {
		out = append(out, stream.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		})
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.ReasoningContent != "" {
			if !t.reasoning {
				t.reasoning = true
				out = append(out, stream.ReasoningStarted{})
			}
			out = append(out, stream.ReasoningDelta{Text: choice.Delta.ReasoningContent})
		}
		if choice.Delta.Content != "" {
			out = append(out, stream.ContentDelta{Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			if tc.ID != "" && tc.Function.Name != "" && !t.openTools[tc.Index] {
				t.openTools[tc.Index] = true
				out = append(out, stream.ToolCallStart{Index: tc.Index, ID: tc.ID, Name: tc.Function.Name})
			}
			if tc.Function.Arguments != "" {
				out = append(out, stream.ToolCallArgsDelta{Index: tc.Index, PartialJSON: tc.Function.Arguments})
			}
		}
		if choice.FinishReason != "" {
			for _, idx := range sortedKeys(t.openTools) {
				out = append(out, stream.ToolCallStop{Index: idx})
			}
			t.openTools = make(map[int]bool)
			out = append(out, stream.MessageDelta{StopReason: choice.FinishReason})
		}
	}

	return out, false
}

func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// encodeRequest builds the chat-completions request body.
func (c *OpenAIClient) encodeRequest(req *Request) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": req.System})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case message.RoleUser, message.RoleSystem:
			msgs = append(msgs, map[string]any{"role": "user", "content": m.Content})
		case message.RoleAssistant:
			entry := map[string]any{"role": "assistant"}
			if m.Content != "" {
				entry["content"] = m.Content
			}
			if len(m.ToolCalls) > 0 {
				calls := make([]map[string]any, 0, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					calls = append(calls, map[string]any{
						"id":   tc.ID,
						"type": "function",
						"function": map[string]any{
							"name":      tc.Name,
							"arguments": string(tc.Arguments),
						},
					})
				}
				entry["tool_calls"] = calls
			}
			msgs = append(msgs, entry)
		case message.RoleTool:
			msgs = append(msgs, map[string]any{
				"role":         "tool",
				"tool_call_id": m.ToolCallID,
				"content":      m.Content,
			})
		}
	}

	body := map[string]any{
		"model":      req.Options.Model,
		"messages":   msgs,
		"stream":     true,
		"max_tokens": req.Options.MaxTokens,
	}
	if req.Options.Temperature > 0 {
		body["temperature"] = req.Options.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, def := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        def.Name,
					"description": def.Description,
					"parameters":  def.Parameters,
				},
			})
		}
		body["tools"] = tools
	}
	return body
}
