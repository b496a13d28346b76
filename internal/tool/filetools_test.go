package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ai/snow/internal/checkpoint"
	"github.com/snow-ai/snow/internal/storage"
)

func testContext(t *testing.T, workDir string) *Context {
	t.Helper()
	cp := checkpoint.NewManager(storage.New(t.TempDir()))
	cp.Create(context.Background(), "ses", 0, nil)
	return &Context{
		SessionID:  "ses",
		CallID:     "call-1",
		WorkDir:    workDir,
		Checkpoint: cp,
	}
}

func TestReadTool_FullFile(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "read.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree"), 0644))

	rt := NewReadTool(workDir, nil)
	res, err := rt.Execute(context.Background(), json.RawMessage(`{"path": "read.txt"}`), testContext(t, workDir))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Output, "one\ntwo\nthree")
	assert.Contains(t, res.Output, "(3 lines total)")
}

func TestReadTool_LineRange(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "read.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\ne"), 0644))

	rt := NewReadTool(workDir, nil)
	input := json.RawMessage(`{"path": "read.txt", "startLine": 2, "endLine": 4}`)
	res, err := rt.Execute(context.Background(), input, testContext(t, workDir))
	require.NoError(t, err)
	assert.Contains(t, res.Output, "b\nc\nd")
	assert.NotContains(t, strings.SplitN(res.Output, "\n\n", 2)[0], "e")
}

func TestReadTool_MissingFile(t *testing.T) {
	workDir := t.TempDir()
	rt := NewReadTool(workDir, nil)
	res, err := rt.Execute(context.Background(), json.RawMessage(`{"path": "absent.txt"}`), testContext(t, workDir))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestWriteTool_CreatesAndRefusesOverwrite(t *testing.T) {
	workDir := t.TempDir()
	toolCtx := testContext(t, workDir)
	wt := NewWriteTool(workDir)

	res, err := wt.Execute(context.Background(), json.RawMessage(`{"path": "new.txt", "content": "hello"}`), toolCtx)
	require.NoError(t, err)
	assert.False(t, res.IsError)

	data, err := os.ReadFile(filepath.Join(workDir, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	res, err = wt.Execute(context.Background(), json.RawMessage(`{"path": "new.txt", "content": "other"}`), toolCtx)
	require.NoError(t, err)
	assert.True(t, res.IsError, "second create without overwrite must fail")

	res, err = wt.Execute(context.Background(), json.RawMessage(`{"path": "new.txt", "content": "other", "overwrite": true}`), toolCtx)
	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func TestWriteTool_SnapshotsBeforeWrite(t *testing.T) {
	workDir := t.TempDir()
	toolCtx := testContext(t, workDir)
	wt := NewWriteTool(workDir)

	_, err := wt.Execute(context.Background(), json.RawMessage(`{"path": "fresh.txt", "content": "x"}`), toolCtx)
	require.NoError(t, err)

	snap, ok := toolCtx.Checkpoint.LastSnapshot("ses", filepath.Join(workDir, "fresh.txt"))
	require.True(t, ok)
	assert.False(t, snap.Exists, "snapshot must record that the file did not exist")
}

func TestEditTool_UniqueReplace(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	et := NewEditTool(workDir)
	input := json.RawMessage(`{"path": "a.txt", "oldText": "world", "newText": "go"}`)
	res, err := et.Execute(context.Background(), input, testContext(t, workDir))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "hello go", string(data))
	assert.Contains(t, res.Output, "Edited")
}

func TestEditTool_AmbiguousRegionFails(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo bar foo"), 0644))

	et := NewEditTool(workDir)
	input := json.RawMessage(`{"path": "a.txt", "oldText": "foo", "newText": "baz"}`)
	res, err := et.Execute(context.Background(), input, testContext(t, workDir))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "2 times")

	data, _ := os.ReadFile(path)
	assert.Equal(t, "foo bar foo", string(data), "file must be untouched")
}

func TestEditTool_NotFoundListsCandidates(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha beta\ngamma delta\n"), 0644))

	et := NewEditTool(workDir)
	input := json.RawMessage(`{"path": "a.txt", "oldText": "alpha beta gamma", "newText": "x"}`)
	res, err := et.Execute(context.Background(), input, testContext(t, workDir))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "not found")
}

func TestEditTool_LineRangeMode(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("l1\nl2\nl3\nl4"), 0644))

	et := NewEditTool(workDir)
	input := json.RawMessage(`{"path": "a.txt", "startLine": 2, "endLine": 3, "newText": "replaced"}`)
	res, err := et.Execute(context.Background(), input, testContext(t, workDir))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "l1\nreplaced\nl4", string(data))
}

func TestUndoTool_RevertsTurnMutation(t *testing.T) {
	workDir := t.TempDir()
	toolCtx := testContext(t, workDir)
	path := filepath.Join(workDir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("before"), 0644))

	et := NewEditTool(workDir)
	input := json.RawMessage(`{"path": "a.txt", "oldText": "before", "newText": "after"}`)
	_, err := et.Execute(context.Background(), input, toolCtx)
	require.NoError(t, err)

	ut := NewUndoTool(workDir)
	res, err := ut.Execute(context.Background(), json.RawMessage(`{"path": "a.txt"}`), toolCtx)
	require.NoError(t, err)
	assert.False(t, res.IsError)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "before", string(data))
}

func TestBatchTool_MixedResult(t *testing.T) {
	workDir := t.TempDir()
	toolCtx := testContext(t, workDir)
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "exists.txt"), []byte("content"), 0644))

	read := NewReadTool(workDir, nil)
	write := NewWriteTool(workDir)
	edit := NewEditTool(workDir)
	bt := NewBatchTool(read, write, edit)

	input, _ := json.Marshal(BatchInput{Operations: []BatchOperation{
		{Op: "create", Path: "made.txt", Content: "new"},
		{Op: "edit", Path: "missing.txt", OldText: "a", NewText: "b"},
		{Op: "read", Path: "exists.txt"},
	}})

	res, err := bt.Execute(context.Background(), input, toolCtx)
	require.NoError(t, err)
	assert.False(t, res.IsError, "partial failure is a mixed result, not an error result")
	assert.Contains(t, res.Output, "1 failed")
	assert.Contains(t, res.Output, "[1] create made.txt: ok")
	assert.Contains(t, res.Output, "[2] edit missing.txt: ERROR")
}

func TestExecTool_CapturesOutputAndExitCode(t *testing.T) {
	workDir := t.TempDir()
	xt := NewExecTool(workDir, nil)

	res, err := xt.Execute(context.Background(), json.RawMessage(`{"command": "echo hello; echo err >&2"}`), testContext(t, workDir))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Output, "hello")
	assert.Contains(t, res.Output, "err")
	assert.Equal(t, 0, res.Metadata["exitCode"])
}

func TestExecTool_NonZeroExit(t *testing.T) {
	workDir := t.TempDir()
	xt := NewExecTool(workDir, nil)

	res, err := xt.Execute(context.Background(), json.RawMessage(`{"command": "exit 3"}`), testContext(t, workDir))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, 3, res.Metadata["exitCode"])
}

func TestExecTool_Timeout(t *testing.T) {
	workDir := t.TempDir()
	xt := NewExecTool(workDir, nil)

	res, err := xt.Execute(context.Background(), json.RawMessage(`{"command": "sleep 5", "timeout": 200}`), testContext(t, workDir))
	require.NoError(t, err)
	assert.Contains(t, res.Output, "timed out")
}

func TestExecTool_Cancellation(t *testing.T) {
	workDir := t.TempDir()
	xt := NewExecTool(workDir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { cancel() }()

	res, err := xt.Execute(ctx, json.RawMessage(`{"command": "sleep 5"}`), testContext(t, workDir))
	require.NoError(t, err)
	_ = res
}

func TestExecTool_RunsInWorkDir(t *testing.T) {
	workDir := t.TempDir()
	xt := NewExecTool(workDir, nil)

	res, err := xt.Execute(context.Background(), json.RawMessage(`{"command": "pwd"}`), testContext(t, workDir))
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(workDir)
	out := strings.TrimSpace(res.Output)
	assert.True(t, strings.HasSuffix(out, filepath.Base(workDir)) || strings.Contains(out, resolved),
		fmt.Sprintf("pwd output %q should reference %q", out, workDir))
}
