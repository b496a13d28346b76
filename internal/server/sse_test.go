package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ai/snow/internal/event"
	"github.com/snow-ai/snow/internal/permission"
)

func TestTranslateEvent_Vocabulary(t *testing.T) {
	cases := []struct {
		in   event.EventType
		want string
	}{
		{event.ContentDelta, "message"},
		{event.ReasoningDelta, "thinking"},
		{event.ToolCallStarted, "tool_call"},
		{event.ToolCallFinished, "tool_result"},
		{event.UsageUpdated, "usage"},
		{event.TurnDone, "complete"},
		{event.TurnFailed, "error"},
		{event.PermissionRequired, "tool_confirmation_request"},
	}
	for _, c := range cases {
		wire, ok := translateEvent(event.Event{Type: c.in})
		require.True(t, ok, "event %s should translate", c.in)
		assert.Equal(t, c.want, wire.Type)
	}

	_, ok := translateEvent(event.Event{Type: event.SessionCreated})
	assert.False(t, ok, "internal-only events are not forwarded")
}

func TestTranslateEvent_ConfirmationCarriesRequestID(t *testing.T) {
	wire, ok := translateEvent(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{ID: "req-1", Tool: "terminal-execute", Sensitive: true},
	})
	require.True(t, ok)

	data := wire.Data.(map[string]any)
	assert.Equal(t, "req-1", data["requestId"])
	assert.Equal(t, true, data["sensitive"])
}

func TestServer_ConfirmResolvedByClientResponse(t *testing.T) {
	srv := &Server{pending: make(map[string]chan confirmAnswer)}

	done := make(chan permission.Decision, 1)
	go func() {
		decision, err := srv.Confirm(context.Background(), permission.Request{ID: "req-1"})
		require.NoError(t, err)
		done <- decision
	}()

	// Wait for registration, then deliver the client's answer.
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		_, ok := srv.pending["req-1"]
		return ok
	}, time.Second, 5*time.Millisecond)

	srv.mu.Lock()
	srv.pending["req-1"] <- confirmAnswer{Action: "reject-with-reply", Reply: "nope"}
	srv.mu.Unlock()

	decision := <-done
	assert.Equal(t, permission.DecisionRejectWithReply, decision.Kind)
	assert.Equal(t, "nope", decision.Reply)
}

func TestServer_ConfirmCancelled(t *testing.T) {
	srv := &Server{pending: make(map[string]chan confirmAnswer)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := srv.Confirm(ctx, permission.Request{ID: "req-2"})
	assert.Error(t, err)
}
