// Command snow is the terminal-resident AI coding agent runtime. The
// interactive terminal UI attaches over the SSE transport; this binary hosts
// the runtime itself plus the headless surfaces.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snow-ai/snow/internal/app"
	"github.com/snow-ai/snow/internal/config"
	"github.com/snow-ai/snow/internal/headless"
	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/proc"
	"github.com/snow-ai/snow/internal/server"
)

var (
	flagAsk       string
	flagTask      string
	flagTaskList  bool
	flagSSE       bool
	flagSSEDaemon bool
	flagSSEStop   bool
	flagSSEStatus bool
	flagSSEPort   int
	flagSSETime   int
	flagWorkDir   string
	flagResume    bool
	flagDev       bool
	flagYOLO      bool
)

func main() {
	root := &cobra.Command{
		Use:           "snow [session-id]",
		Short:         "snow - terminal-resident AI coding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE:          run,
	}

	flags := root.Flags()
	flags.StringVar(&flagAsk, "ask", "", "run one headless turn with the given prompt")
	flags.StringVar(&flagTask, "task", "", "start a fire-and-forget background turn")
	flags.BoolVar(&flagTaskList, "task-list", false, "list background tasks")
	flags.BoolVar(&flagSSE, "sse", false, "serve the runtime over SSE in the foreground")
	flags.BoolVar(&flagSSEDaemon, "sse-daemon", false, "serve the runtime over SSE as a daemon")
	flags.BoolVar(&flagSSEStop, "sse-stop", false, "stop the SSE daemon")
	flags.BoolVar(&flagSSEStatus, "sse-status", false, "report SSE daemon status")
	flags.IntVar(&flagSSEPort, "sse-port", 0, "SSE port (default from config)")
	flags.IntVar(&flagSSETime, "sse-timeout", 0, "SSE server lifetime in seconds (default from config)")
	flags.StringVar(&flagWorkDir, "work-dir", "", "working directory (default: cwd)")
	flags.BoolVarP(&flagResume, "resume", "c", false, "resume the last session")
	flags.BoolVar(&flagDev, "dev", false, "enable dev mode")
	flags.BoolVar(&flagYOLO, "yolo", false, "auto-approve non-sensitive tool calls")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	workDir := flagWorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Daemon control paths need no runtime.
	switch {
	case flagSSEStop:
		return sseStop()
	case flagSSEStatus:
		return sseStatus(workDir)
	case flagSSEDaemon:
		return sseDaemon(workDir)
	}

	a, err := app.New(ctx, app.Options{
		WorkDir: workDir,
		YOLO:    flagYOLO,
		Dev:     flagDev,
	})
	if err != nil {
		return err
	}
	defer a.Shutdown()
	defer proc.Default().ShutdownAll()

	switch {
	case flagAsk != "":
		unsub := headless.PrintProgress()
		defer unsub()
		sessionID := ""
		if len(args) == 1 {
			sessionID = args[0]
		} else if flagResume {
			sessionID, err = a.Sessions.LastSessionID(ctx)
			if err != nil {
				return err
			}
		}
		return headless.Ask(ctx, a, flagAsk, sessionID)

	case flagTask != "":
		record, err := headless.StartTask(ctx, a, flagTask)
		if err != nil {
			return err
		}
		fmt.Printf("started task %s (pid %d)\n", record.ID, record.PID)
		return nil

	case flagTaskList:
		return headless.ListTasks(ctx, a)

	case flagSSE:
		return serveSSE(ctx, a)

	default:
		fmt.Println("snow runtime ready. Attach a UI over --sse, or use --ask for a headless turn.")
		return nil
	}
}

func ssePort(workDir string) int {
	if flagSSEPort > 0 {
		return flagSSEPort
	}
	return config.Load(workDir).SSE.Port
}

func serveSSE(ctx context.Context, a *app.App) error {
	port := a.Config.SSE.Port
	if flagSSEPort > 0 {
		port = flagSSEPort
	}
	timeout := a.Config.SSE.Timeout
	if flagSSETime > 0 {
		timeout = flagSSETime
	}

	if err := writePidFile(port); err != nil {
		logging.Warn().Err(err).Msg("pid file write failed")
	}
	defer os.Remove(pidFilePath())

	srv := server.New(a, port)

	// A timeout of 0 serves until interrupted; otherwise the server stops
	// after that many seconds whether or not clients are connected.
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}
	return srv.ListenAndServe(ctx)
}

func sseDaemon(workDir string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	args := []string{"--sse", "--work-dir", workDir}
	if flagSSEPort > 0 {
		args = append(args, "--sse-port", strconv.Itoa(flagSSEPort))
	}
	child := newDetachedCommand(self, args)
	if err := child.Start(); err != nil {
		return fmt.Errorf("sse daemon start: %w", err)
	}
	fmt.Printf("sse daemon started (pid %d)\n", child.Process.Pid)
	return nil
}

func sseStop() error {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return fmt.Errorf("sse daemon not running")
	}
	var info pidFile
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("corrupt pid file")
	}
	if err := syscall.Kill(info.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("sse daemon not running (stale pid %d)", info.PID)
	}
	os.Remove(pidFilePath())
	fmt.Println("sse daemon stopped")
	return nil
}

func sseStatus(workDir string) error {
	port := ssePort(workDir)
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		fmt.Println("sse: not running")
		os.Exit(1)
	}
	defer resp.Body.Close()
	fmt.Printf("sse: running on port %d\n", port)
	return nil
}

type pidFile struct {
	PID  int `json:"pid"`
	Port int `json:"port"`
}

func pidFilePath() string {
	return filepath.Join(config.GlobalDir(), "sse.pid")
}

func writePidFile(port int) error {
	data, err := json.Marshal(pidFile{PID: os.Getpid(), Port: port})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(config.GlobalDir(), 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), data, 0644)
}
