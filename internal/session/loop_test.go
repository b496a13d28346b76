package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ai/snow/internal/agent"
	"github.com/snow-ai/snow/internal/checkpoint"
	"github.com/snow-ai/snow/internal/config"
	"github.com/snow-ai/snow/internal/event"
	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/notebook"
	"github.com/snow-ai/snow/internal/permission"
	"github.com/snow-ai/snow/internal/provider"
	"github.com/snow-ai/snow/internal/storage"
	"github.com/snow-ai/snow/internal/stream"
	"github.com/snow-ai/snow/internal/todo"
	"github.com/snow-ai/snow/internal/tool"
)

// mockAttempt scripts one provider stream.
type mockAttempt struct {
	events []stream.Event
	err    error
	// block waits for cancellation instead of emitting events.
	block bool
}

// mockProvider replays scripted attempts in call order.
type mockProvider struct {
	mu       sync.Mutex
	attempts []mockAttempt
	calls    int
}

func (m *mockProvider) ID() string { return "mock" }

func (m *mockProvider) Stream(ctx context.Context, req *provider.Request) (<-chan stream.Event, <-chan stream.Result, error) {
	m.mu.Lock()
	attempt := mockAttempt{events: []stream.Event{stream.Done{}}}
	if m.calls < len(m.attempts) {
		attempt = m.attempts[m.calls]
	}
	m.calls++
	m.mu.Unlock()

	events := make(chan stream.Event, len(attempt.events)+1)
	result := make(chan stream.Result, 1)
	go func() {
		defer close(events)
		if attempt.block {
			<-ctx.Done()
			result <- stream.Result{Err: ctx.Err()}
			return
		}
		for _, ev := range attempt.events {
			select {
			case events <- ev:
			case <-ctx.Done():
				result <- stream.Result{Err: ctx.Err()}
				return
			}
		}
		result <- stream.Result{Err: attempt.err}
	}()
	return events, result, nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// testRuntime assembles a manager over temp directories with a scripted
// provider and confirmer.
type testRuntime struct {
	manager  *Manager
	provider *mockProvider
	gate     *permission.Gate
	workDir  string
	prompts  *int
}

func newTestRuntime(t *testing.T, attempts []mockAttempt, decision permission.Decision) *testRuntime {
	t.Helper()

	workDir := t.TempDir()
	global := storage.New(t.TempDir())
	project := storage.New(t.TempDir())

	prompts := 0
	confirmer := permission.ConfirmerFunc(func(ctx context.Context, req permission.Request) (permission.Decision, error) {
		prompts++
		return decision, nil
	})
	gate := permission.NewGate(confirmer, permission.DefaultRules(), permission.LoadProjectPermissions(context.Background(), project))

	registry := tool.NewRegistry()
	executor := tool.NewExecutor(registry, gate)

	mock := &mockProvider{attempts: attempts}
	providers := provider.NewRegistry()
	providers.Register(mock)

	cfg := config.Config{
		Provider: config.ProviderConfig{ID: "mock", Model: "test-model", MaxTokens: 1024},
		WorkDir:  workDir,
	}

	manager := NewManager(ManagerConfig{
		Config:      cfg,
		Global:      global,
		Checkpoints: checkpoint.NewManager(global),
		Todos:       todo.NewStore(global),
		Notebooks:   notebook.NewJournal(notebook.Load(context.Background(), project, workDir)),
		Providers:   providers,
		Executor:    executor,
		Gate:        gate,
		Profiles:    agent.NewRegistry(),
	})

	read := tool.NewReadTool(workDir, nil)
	write := tool.NewWriteTool(workDir)
	edit := tool.NewEditTool(workDir)
	registry.Register(read)
	registry.Register(write)
	registry.Register(edit)
	registry.Register(tool.NewExecTool(workDir, nil))
	registry.Register(tool.NewTaskTool("agent_explore", "explore", "codebase exploration", manager))

	return &testRuntime{
		manager:  manager,
		provider: mock,
		gate:     gate,
		workDir:  workDir,
		prompts:  &prompts,
	}
}

func (rt *testRuntime) submitAndWait(t *testing.T, sess *Session, text string) error {
	t.Helper()
	done := rt.manager.Submit(sess, UserInput{Text: text})
	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		t.Fatal("turn did not settle")
		return nil
	}
}

func toolCallScript(calls ...[3]string) []stream.Event {
	var events []stream.Event
	for i, c := range calls {
		events = append(events,
			stream.ToolCallStart{Index: i, ID: c[0], Name: c[1]},
			stream.ToolCallArgsDelta{Index: i, PartialJSON: c[2]},
			stream.ToolCallStop{Index: i},
		)
	}
	return append(events, stream.Done{})
}

// Scenario 1: simple turn, no tools.
func TestTurn_SimpleNoTools(t *testing.T) {
	rt := newTestRuntime(t, []mockAttempt{
		{events: []stream.Event{stream.ContentDelta{Text: "hi"}, stream.Done{}}},
	}, permission.Decision{Kind: permission.DecisionAllow})

	sess, err := rt.manager.Create(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, rt.submitAndWait(t, sess, "hello"))

	msgs := sess.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, message.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, 1, msgs[1].Index)

	// The checkpoint was committed.
	assert.False(t, rt.manager.checkpoints.Active(sess.ID()))
}

// Scenario 2: shell tool approved once; permission set unchanged after.
func TestTurn_ShellToolApprovedOnce(t *testing.T) {
	rt := newTestRuntime(t, []mockAttempt{
		{events: toolCallScript([3]string{"call_1", "terminal-execute", `{"command":"printf 'a\nb\n'","timeout":5000}`})},
		{events: []stream.Event{stream.ContentDelta{Text: "Done."}, stream.Done{}}},
	}, permission.Decision{Kind: permission.DecisionAllow})

	sess, err := rt.manager.Create(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, rt.submitAndWait(t, sess, "list files"))

	msgs := sess.store.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, message.RoleUser, msgs[0].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "terminal-execute", msgs[1].ToolCalls[0].Name)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Contains(t, msgs[2].Content, "a\nb")
	assert.Equal(t, message.StatusOK, msgs[2].Status)
	assert.Equal(t, "Done.", msgs[3].Content)

	assert.Equal(t, 1, *rt.prompts, "exactly one confirmation")

	// approve-once left no standing approval: a second identical turn
	// prompts again.
	rt.provider.mu.Lock()
	rt.provider.attempts = append(rt.provider.attempts,
		mockAttempt{events: toolCallScript([3]string{"call_2", "terminal-execute", `{"command":"true"}`})},
		mockAttempt{events: []stream.Event{stream.Done{}}},
	)
	rt.provider.mu.Unlock()
	require.NoError(t, rt.submitAndWait(t, sess, "again"))
	assert.Equal(t, 2, *rt.prompts)
}

// Scenario 3: sensitive command blocked, rejected with reply.
func TestTurn_SensitiveCommandRejectedWithReply(t *testing.T) {
	rt := newTestRuntime(t, []mockAttempt{
		{events: toolCallScript([3]string{"call_1", "terminal-execute", `{"command":"rm -rf /"}`})},
		{events: []stream.Event{stream.ContentDelta{Text: "understood"}, stream.Done{}}},
	}, permission.Decision{Kind: permission.DecisionRejectWithReply, Reply: "too dangerous"})

	sess, err := rt.manager.Create(context.Background(), "")
	require.NoError(t, err)

	// YOLO must not bypass the sensitive classifier.
	rt.gate.SetYOLO(sess.ID(), true)
	require.NoError(t, rt.submitAndWait(t, sess, "clean up"))

	msgs := sess.store.Messages()
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Contains(t, msgs[2].Content, "too dangerous")
	assert.Equal(t, message.StatusRejected, msgs[2].Status)
	assert.Equal(t, 1, *rt.prompts)
}

// Scenario 4: edit then cancel rolls back the file and the log.
func TestTurn_EditThenCancelRollsBack(t *testing.T) {
	rt := newTestRuntime(t, nil, permission.Decision{Kind: permission.DecisionAllow})

	target := filepath.Join(rt.workDir, "src", "a.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0755))
	require.NoError(t, os.WriteFile(target, []byte("foo"), 0644))

	rt.provider.attempts = []mockAttempt{
		{events: toolCallScript([3]string{"call_1", "filesystem-edit", `{"path":"src/a.txt","oldText":"foo","newText":"bar"}`})},
		{block: true}, // the next stream hangs until the user cancels
	}

	sess, err := rt.manager.Create(context.Background(), "")
	require.NoError(t, err)
	rt.gate.SetYOLO(sess.ID(), true)

	cancelled := make(chan struct{})
	unsub := event.Subscribe(event.TurnCancelled, func(e event.Event) {
		close(cancelled)
	})
	defer unsub()

	done := rt.manager.Submit(sess, UserInput{Text: "replace foo with bar"})

	// Wait for the edit to land, then cancel mid-turn.
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(target)
		return err == nil && string(data) == "bar"
	}, 10*time.Second, 10*time.Millisecond)
	rt.manager.Cancel(sess)

	err = <-done
	require.Error(t, err)

	data, rerr := os.ReadFile(target)
	require.NoError(t, rerr)
	assert.Equal(t, "foo", string(data), "file restored to pre-turn state")

	// Only the user message survives.
	assert.Equal(t, 1, sess.store.Len())

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("turn-cancelled not emitted")
	}
}

// Scenario 5: retry on idle timeout completes with no duplicate messages.
func TestTurn_RetryOnIdleTimeout(t *testing.T) {
	rt := newTestRuntime(t, []mockAttempt{
		{err: stream.ErrIdleTimeout},
		{events: []stream.Event{stream.ContentDelta{Text: "recovered"}, stream.Done{}}},
	}, permission.Decision{Kind: permission.DecisionAllow})

	var retryMu sync.Mutex
	var retries []int
	unsub := event.Subscribe(event.TurnRetrying, func(e event.Event) {
		if d, ok := e.Data.(event.RetryData); ok {
			retryMu.Lock()
			retries = append(retries, d.Attempt)
			retryMu.Unlock()
		}
	})
	defer unsub()

	sess, err := rt.manager.Create(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, rt.submitAndWait(t, sess, "hello"))

	assert.Equal(t, 2, rt.provider.callCount())

	msgs := sess.store.Messages()
	require.Len(t, msgs, 2, "no duplicate messages after retry")
	assert.Equal(t, "recovered", msgs[1].Content)

	retryMu.Lock()
	defer retryMu.Unlock()
	assert.Equal(t, []int{1}, retries)
}

// Scenario 6: sub-agent and read execute in parallel; results appended in
// emission order; sub-agent internals excluded from provider history.
func TestTurn_SubAgentInParallel(t *testing.T) {
	rt := newTestRuntime(t, nil, permission.Decision{Kind: permission.DecisionAllow})

	require.NoError(t, os.WriteFile(filepath.Join(rt.workDir, "README.md"), []byte("project readme"), 0644))

	rt.provider.attempts = []mockAttempt{
		// Main turn: explore first, read second.
		{events: toolCallScript(
			[3]string{"call_explore", "agent_explore", `{"prompt":"find auth"}`},
			[3]string{"call_read", "filesystem-read", `{"path":"README.md"}`},
		)},
		// Sub-agent's single stream.
		{events: []stream.Event{stream.ContentDelta{Text: "auth lives in internal/auth"}, stream.Done{}}},
		// Main resume after tool results.
		{events: []stream.Event{stream.ContentDelta{Text: "done"}, stream.Done{}}},
	}

	sess, err := rt.manager.Create(context.Background(), "")
	require.NoError(t, err)
	rt.gate.SetYOLO(sess.ID(), true)
	require.NoError(t, rt.submitAndWait(t, sess, "explore and read"))

	msgs := sess.store.Messages()

	// Tool results land in emission order: explore before read.
	var exploreIdx, readIdx int
	for _, m := range msgs {
		switch m.ToolCallID {
		case "call_explore":
			exploreIdx = m.Index
			assert.Contains(t, m.Content, "internal/auth")
		case "call_read":
			readIdx = m.Index
			assert.Contains(t, m.Content, "project readme")
		}
	}
	require.NotZero(t, exploreIdx)
	require.NotZero(t, readIdx)
	assert.Less(t, exploreIdx, readIdx)

	// Sub-agent internals are logged but excluded from provider history.
	internals := 0
	for _, m := range msgs {
		if m.SubAgentInternal {
			internals++
			assert.Equal(t, "agent_explore", m.SubAgentID)
		}
	}
	assert.GreaterOrEqual(t, internals, 2)

	for _, m := range sess.store.History() {
		assert.False(t, m.SubAgentInternal)
	}
}

// Turn queue: concurrent submissions run FIFO, one at a time.
func TestManager_QueuedSubmissionsRunInOrder(t *testing.T) {
	rt := newTestRuntime(t, []mockAttempt{
		{events: []stream.Event{stream.ContentDelta{Text: "first"}, stream.Done{}}},
		{events: []stream.Event{stream.ContentDelta{Text: "second"}, stream.Done{}}},
	}, permission.Decision{Kind: permission.DecisionAllow})

	sess, err := rt.manager.Create(context.Background(), "")
	require.NoError(t, err)

	done1 := rt.manager.Submit(sess, UserInput{Text: "one"})
	done2 := rt.manager.Submit(sess, UserInput{Text: "two"})

	require.NoError(t, <-done1)
	require.NoError(t, <-done2)

	msgs := sess.store.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "two", msgs[2].Content)
	assert.Equal(t, "second", msgs[3].Content)
	require.NoError(t, sess.store.Validate())
}

// Unknown-tool calls fail as tool results, not turn failures.
func TestTurn_UnknownToolSurfacesAsErrorResult(t *testing.T) {
	rt := newTestRuntime(t, []mockAttempt{
		{events: toolCallScript([3]string{"call_1", "no-such-tool", `{}`})},
		{events: []stream.Event{stream.Done{}}},
	}, permission.Decision{Kind: permission.DecisionAllow})

	sess, err := rt.manager.Create(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, rt.submitAndWait(t, sess, "go"))

	msgs := sess.store.Messages()
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, message.StatusError, msgs[2].Status)
	assert.Contains(t, msgs[2].Content, "Unknown tool")
}

// Repaired tool-call JSON still parses via the documented repair policy.
func TestTurn_ToolArgsRepairedAcrossDeltas(t *testing.T) {
	events := []stream.Event{
		stream.ToolCallStart{Index: 0, ID: "call_1", Name: "filesystem-read"},
		stream.ToolCallArgsDelta{Index: 0, PartialJSON: `{"pa`},
		stream.ToolCallArgsDelta{Index: 0, PartialJSON: `th":"README.md"`},
		stream.ToolCallArgsDelta{Index: 0, PartialJSON: `}`},
		stream.ToolCallStop{Index: 0},
		stream.Done{},
	}
	rt := newTestRuntime(t, []mockAttempt{
		{events: events},
		{events: []stream.Event{stream.Done{}}},
	}, permission.Decision{Kind: permission.DecisionAllow})
	require.NoError(t, os.WriteFile(filepath.Join(rt.workDir, "README.md"), []byte("hello"), 0644))

	sess, err := rt.manager.Create(context.Background(), "")
	require.NoError(t, err)
	rt.gate.SetYOLO(sess.ID(), true)
	require.NoError(t, rt.submitAndWait(t, sess, "read it"))

	msgs := sess.store.Messages()
	require.GreaterOrEqual(t, len(msgs), 3)

	var args map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].ToolCalls[0].Arguments, &args))
	assert.Equal(t, "README.md", args["path"])
	assert.Contains(t, msgs[2].Content, "hello")
}
