package permission

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execCall(command string) Call {
	return Call{
		Tool:      "terminal-execute",
		Arguments: json.RawMessage(`{"command":"` + command + `"}`),
		Command:   command,
	}
}

func TestDoomLoopDetector_FlagsThirdIdenticalCall(t *testing.T) {
	d := NewDoomLoopDetector()

	assert.False(t, d.Observe("ses", execCall("make test")))
	assert.False(t, d.Observe("ses", execCall("make test")))
	assert.True(t, d.Observe("ses", execCall("make test")))
	// The run keeps flagging until something else breaks it.
	assert.True(t, d.Observe("ses", execCall("make test")))
}

func TestDoomLoopDetector_DifferentCallBreaksRun(t *testing.T) {
	d := NewDoomLoopDetector()

	d.Observe("ses", execCall("make test"))
	d.Observe("ses", execCall("make test"))
	assert.False(t, d.Observe("ses", execCall("ls")))
	assert.False(t, d.Observe("ses", execCall("make test")))
	assert.False(t, d.Observe("ses", execCall("make test")))
	assert.True(t, d.Observe("ses", execCall("make test")))
}

func TestDoomLoopDetector_SessionsAreIndependent(t *testing.T) {
	d := NewDoomLoopDetector()

	d.Observe("a", execCall("go build"))
	d.Observe("a", execCall("go build"))
	assert.False(t, d.Observe("b", execCall("go build")))
	assert.True(t, d.Observe("a", execCall("go build")))

	d.ClearSession("a")
	assert.False(t, d.Observe("a", execCall("go build")))
}

func TestDoomLoopDetector_SameToolDifferentArgsNotFlagged(t *testing.T) {
	d := NewDoomLoopDetector()

	read := func(path string) Call {
		return Call{Tool: "filesystem-read", Arguments: json.RawMessage(`{"path":"` + path + `"}`)}
	}
	assert.False(t, d.Observe("ses", read("a.go")))
	assert.False(t, d.Observe("ses", read("b.go")))
	assert.False(t, d.Observe("ses", read("c.go")))
}

func TestGate_DoomLoopOverridesAutoApproval(t *testing.T) {
	ctx := context.Background()
	confirmer := &recordingConfirmer{decision: Decision{Kind: DecisionAllow}}
	gate := NewGate(confirmer, DefaultRules(), nil)

	gate.SetYOLO("ses", true)
	gate.ApproveAlways(ctx, "ses", "terminal-execute")

	// Two identical calls ride the auto-approval; the third goes back to
	// the user with approve-always hidden.
	for i := 0; i < 2; i++ {
		decision, err := gate.Check(ctx, "ses", execCall("make test"))
		require.NoError(t, err)
		assert.Equal(t, DecisionAllow, decision.Kind)
	}
	assert.Empty(t, confirmer.requests)

	decision, err := gate.Check(ctx, "ses", execCall("make test"))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision.Kind)

	require.Len(t, confirmer.requests, 1)
	req := confirmer.requests[0]
	assert.True(t, req.Repeated)
	assert.NotContains(t, req.Options, ApproveAlways)
}

func TestGate_DoomLoopApproveAlwaysNotPersisted(t *testing.T) {
	ctx := context.Background()
	// A confirmer that (incorrectly) answers approve-always anyway.
	confirmer := &recordingConfirmer{decision: Decision{Kind: DecisionAllow, Always: true}}
	gate := NewGate(confirmer, DefaultRules(), nil)
	gate.SetYOLO("ses", true)

	for i := 0; i < 3; i++ {
		_, err := gate.Check(ctx, "ses", execCall("make test"))
		require.NoError(t, err)
	}

	// The flagged repeat must not have minted a standing approval: session
	// "ses" holds no session-wide approval for terminal-execute.
	assert.False(t, gate.approved("ses", "terminal-execute"))
}
