package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/stream"
)

func chunk(t *testing.T, data string) stream.RawEvent {
	t.Helper()
	return stream.RawEvent{Data: []byte(data)}
}

func TestChatTranslator_TextDeltas(t *testing.T) {
	tr := newChatTranslator()

	events, done := tr.translate(chunk(t, `{"choices":[{"delta":{"content":"hel"}}]}`))
	require.False(t, done)
	require.Len(t, events, 2)
	assert.Equal(t, stream.MessageStart{}, events[0])
	assert.Equal(t, stream.ContentDelta{Text: "hel"}, events[1])

	events, _ = tr.translate(chunk(t, `{"choices":[{"delta":{"content":"lo"}}]}`))
	require.Len(t, events, 1)
	assert.Equal(t, stream.ContentDelta{Text: "lo"}, events[0])
}

func TestChatTranslator_ToolCallLifecycle(t *testing.T) {
	tr := newChatTranslator()

	tr.translate(chunk(t, `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"filesystem-read","arguments":""}}]}}]}`))
	events, _ := tr.translate(chunk(t, `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":\"a\"}"}}]}}]}`))
	require.Len(t, events, 1)
	assert.Equal(t, stream.ToolCallArgsDelta{Index: 0, PartialJSON: `{"path":"a"}`}, events[0])

	// finish_reason closes every open tool call.
	events, _ = tr.translate(chunk(t, `{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`))
	require.Len(t, events, 2)
	assert.Equal(t, stream.ToolCallStop{Index: 0}, events[0])
	assert.Equal(t, stream.MessageDelta{StopReason: "tool_calls"}, events[1])
}

func TestChatTranslator_Usage(t *testing.T) {
	tr := newChatTranslator()
	events, _ := tr.translate(chunk(t, `{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":34}}`))
	require.Len(t, events, 2)
	assert.Equal(t, stream.Usage{InputTokens: 12, OutputTokens: 34}, events[1])
}

func TestOpenAIClient_EncodeRequestShapesMessages(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{})

	req := &Request{
		System: "be helpful",
		Messages: []*message.Message{
			{Role: message.RoleUser, Content: "hi"},
			{Role: message.RoleAssistant, ToolCalls: []message.ToolCallDescriptor{
				{ID: "c1", Name: "t", Arguments: []byte(`{"x":1}`)},
			}},
			{Role: message.RoleTool, ToolCallID: "c1", Content: "out"},
		},
		Options: Options{Model: "m", MaxTokens: 100},
	}

	body := c.encodeRequest(req)
	msgs := body["messages"].([]map[string]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0]["role"])
	assert.Equal(t, "user", msgs[1]["role"])
	assert.Equal(t, "assistant", msgs[2]["role"])
	assert.Equal(t, "tool", msgs[3]["role"])
	assert.Equal(t, "c1", msgs[3]["tool_call_id"])
	assert.Equal(t, true, body["stream"])
}

func TestRegistry_DefaultAndLookup(t *testing.T) {
	r := NewRegistry()
	c := NewOpenAIClient(OpenAIConfig{ID: "gateway"})
	r.Register(c)

	got, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "gateway", got.ID())

	_, err = r.Get("missing")
	assert.Error(t, err)
}
