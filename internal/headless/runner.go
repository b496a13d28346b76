// Package headless runs single turns without an interactive UI: the --ask
// and --task CLI surfaces.
package headless

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/snow-ai/snow/internal/app"
	"github.com/snow-ai/snow/internal/event"
	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/session"
)

// Ask runs one turn headlessly and prints the final assistant text to
// stdout. Without a confirmer attached, tools outside the auto-approved set
// are rejected unless YOLO mode admits them.
func Ask(ctx context.Context, a *app.App, prompt, sessionID string) error {
	var sess *session.Session
	var err error
	if sessionID != "" {
		sess, err = a.Sessions.Load(ctx, sessionID)
	} else {
		sess, err = a.Sessions.Create(ctx, "")
	}
	if err != nil {
		return err
	}

	if a.Config.YOLO {
		a.Gate.SetYOLO(sess.ID(), true)
	}

	done := a.Sessions.Submit(sess, session.UserInput{Text: prompt})
	select {
	case err = <-done:
	case <-ctx.Done():
		a.Sessions.Cancel(sess)
		err = <-done
	}
	if err != nil {
		return err
	}

	// The final assistant message is the newest non-internal assistant text.
	var final string
	sess.Store().Reverse(func(m *message.Message) bool {
		if m.Role == message.RoleAssistant && !m.SubAgentInternal {
			final = m.Content
			return false
		}
		return true
	})
	fmt.Println(final)
	return nil
}

// TaskRecord is one background task entry.
type TaskRecord struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	SessionID   string    `json:"sessionId,omitempty"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"startedAt"`
}

// StartTask launches a fire-and-forget background turn: the current binary
// re-invoked with --ask, detached from this terminal.
func StartTask(ctx context.Context, a *app.App, description string) (*TaskRecord, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(self, "--ask", description, "--work-dir", a.Config.WorkDir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start task: %w", err)
	}

	record := &TaskRecord{
		ID:          ulid.Make().String(),
		Description: description,
		PID:         cmd.Process.Pid,
		StartedAt:   time.Now(),
	}
	if err := a.Global.Put(ctx, []string{"tasks", record.ID}, record); err != nil {
		logging.Warn().Err(err).Msg("task record persist failed")
	}

	// Reap in the background so the child never zombifies under us.
	go cmd.Wait()

	return record, nil
}

// ListTasks prints the recorded background tasks.
func ListTasks(ctx context.Context, a *app.App) error {
	ids, err := a.Global.List(ctx, []string{"tasks"})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No background tasks")
		return nil
	}
	for _, id := range ids {
		var record TaskRecord
		if err := a.Global.Get(ctx, []string{"tasks", id}, &record); err != nil {
			continue
		}
		fmt.Printf("%s  pid=%d  %s  %s\n",
			record.ID, record.PID, record.StartedAt.Format(time.RFC3339), record.Description)
	}
	return nil
}

// PrintProgress subscribes a minimal progress printer for headless runs.
// Returns the unsubscribe function.
func PrintProgress() func() {
	return event.SubscribeAll(func(e event.Event) {
		switch e.Type {
		case event.TurnRetrying:
			if d, ok := e.Data.(event.RetryData); ok {
				fmt.Fprintf(os.Stderr, "retrying (attempt %d, in %dms): %s\n", d.Attempt, d.DelayMS, d.Reason)
			}
		case event.ToolCallStarted:
			if d, ok := e.Data.(event.ToolCallData); ok {
				fmt.Fprintf(os.Stderr, "tool: %s\n", d.Tool)
			}
		case event.TurnFailed:
			if d, ok := e.Data.(event.TurnData); ok {
				fmt.Fprintf(os.Stderr, "turn failed: %s\n", d.Error)
			}
		}
	})
}
