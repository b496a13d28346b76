// Package proc supervises child processes spawned by tools: registration for
// global cleanup, background promotion, and tree kill on shutdown.
package proc

import (
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/snow-ai/snow/internal/logging"
)

// KillGrace is how long a process gets between SIGTERM and SIGKILL.
const KillGrace = 100 * time.Millisecond

// Child is one supervised process.
type Child struct {
	Cmd       *exec.Cmd
	SessionID string
	CallID    string

	// WriteInput routes user-typed lines to the process when it is waiting
	// for input. Nil when stdin is not wired.
	WriteInput func(line string) error
}

// Pid returns the child's pid, or 0 before start.
func (c *Child) Pid() int {
	if c.Cmd == nil || c.Cmd.Process == nil {
		return 0
	}
	return c.Cmd.Process.Pid
}

// Supervisor tracks all live children in a process-wide set. Children are
// registered at spawn and removed at reap; shutdown iterates a snapshot and
// kills every remaining process.
type Supervisor struct {
	mu         sync.Mutex
	procs      map[int]*Child
	background map[int]*Child
}

// global is the process-wide supervisor.
var global = NewSupervisor()

// NewSupervisor creates an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		procs:      make(map[int]*Child),
		background: make(map[int]*Child),
	}
}

// Default returns the process-wide supervisor.
func Default() *Supervisor { return global }

// Register adds a started child to the supervised set.
func (s *Supervisor) Register(c *Child) {
	pid := c.Pid()
	if pid == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[pid] = c
}

// Deregister removes a reaped child from both sets.
func (s *Supervisor) Deregister(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, pid)
	delete(s.background, pid)
}

// MoveToBackground retains the process past the end of its tool call. It is
// still killed on program shutdown.
func (s *Supervisor) MoveToBackground(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.procs[pid]
	if !ok {
		return false
	}
	s.background[pid] = c
	return true
}

// Find returns the live child serving a tool call, for routing user-typed
// input to a process that is waiting on stdin.
func (s *Supervisor) Find(sessionID, callID string) *Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.procs {
		if c.SessionID == sessionID && c.CallID == callID {
			return c
		}
	}
	return nil
}

// IsBackground reports whether the pid was moved to the background set.
func (s *Supervisor) IsBackground(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.background[pid]
	return ok
}

// Background returns a snapshot of the background children.
func (s *Supervisor) Background() []*Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Child, 0, len(s.background))
	for _, c := range s.background {
		out = append(out, c)
	}
	return out
}

// KillSession kills every foreground child belonging to a session's turn,
// sparing background children. Used on turn cancellation.
func (s *Supervisor) KillSession(sessionID string) {
	s.mu.Lock()
	var targets []*Child
	for pid, c := range s.procs {
		if c.SessionID != sessionID {
			continue
		}
		if _, bg := s.background[pid]; bg {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		KillTree(c.Pid())
	}
}

// ShutdownAll kills every supervised process, background included. Called on
// program shutdown (graceful or signal); iteration takes a snapshot so
// concurrent reaps are safe.
func (s *Supervisor) ShutdownAll() {
	s.mu.Lock()
	targets := make([]*Child, 0, len(s.procs))
	for _, c := range s.procs {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		pid := c.Pid()
		logging.Debug().Int("pid", pid).Msg("shutdown: killing child process")
		KillTree(pid)
		s.Deregister(pid)
	}
}

// KillTree terminates a process and its descendants: SIGTERM to the process
// group, then SIGKILL after a short grace if still alive. On Windows a
// taskkill tree kill is used instead.
func KillTree(pid int) {
	if pid == 0 {
		return
	}

	if runtime.GOOS == "windows" {
		exec.Command("taskkill", "/pid", itoa(pid), "/f", "/t").Run()
		return
	}

	// Negative pid targets the process group set up at spawn.
	syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(KillGrace)
	if syscall.Kill(-pid, 0) == nil {
		syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// SetProcessGroup configures cmd so its children die with it.
func SetProcessGroup(cmd *exec.Cmd) {
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
