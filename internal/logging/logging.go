// Package logging provides structured logging for the runtime, built on
// zerolog. The process owns one root logger; packages either use the
// package-level helpers or derive a component child via For.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the root logger. Prefer the helpers below over touching it
// directly.
var Logger zerolog.Logger

var (
	sinkMu   sync.Mutex
	fileSink *os.File
)

// Level represents log levels.
type Level = zerolog.Level

// Log levels exposed for convenience.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// options collects the Init configuration.
type options struct {
	level   Level
	console io.Writer
	pretty  bool
	fileDir string // non-empty enables the file sink
}

// Option configures Init.
type Option func(*options)

// WithLevel sets the minimum level.
func WithLevel(level Level) Option {
	return func(o *options) { o.level = level }
}

// WithConsole redirects console output (default os.Stderr).
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithPretty enables human-readable console output.
func WithPretty() Option {
	return func(o *options) { o.pretty = true }
}

// WithFileSink additionally appends JSON lines to a daily snow-<date>.log
// file under dir; an empty dir selects ~/.snow/logs.
func WithFileSink(dir string) Option {
	return func(o *options) {
		if dir == "" {
			dir = defaultLogDir()
		}
		o.fileDir = dir
	}
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "snow-logs")
	}
	return filepath.Join(home, ".snow", "logs")
}

// Init configures the root logger. Safe to call again; a previous file sink
// is closed first.
func Init(opts ...Option) {
	cfg := options{
		level:   InfoLevel,
		console: os.Stderr,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var console io.Writer = cfg.console
	if cfg.pretty {
		console = zerolog.ConsoleWriter{Out: cfg.console, TimeFormat: time.RFC3339}
	}

	sinks := []io.Writer{console}

	sinkMu.Lock()
	if fileSink != nil {
		fileSink.Close()
		fileSink = nil
	}
	if cfg.fileDir != "" {
		if f := openDailySink(cfg.fileDir); f != nil {
			fileSink = f
			sinks = append(sinks, f)
		}
	}
	sinkMu.Unlock()

	out := sinks[0]
	if len(sinks) > 1 {
		out = zerolog.MultiLevelWriter(sinks...)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	Logger = zerolog.New(out).Level(cfg.level).With().Timestamp().Logger()
}

// openDailySink opens (appending) today's log file so restarts within a day
// share one file instead of littering the directory.
func openDailySink(dir string) *os.File {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil
	}
	name := "snow-" + time.Now().Format("2006-01-02") + ".log"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	return f
}

// Close flushes and closes the file sink if one is open.
func Close() {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if fileSink != nil {
		fileSink.Close()
		fileSink = nil
	}
}

// ParseLevel parses a log level string (case-insensitive), defaulting to
// InfoLevel for anything unrecognized.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// For derives a child logger tagged with a component name.
func For(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// Debug starts a new debug level log message.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info starts a new info level log message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn starts a new warn level log message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error starts a new error level log message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal starts a new fatal level log message.
// Calling Msg or Send on the returned event will call os.Exit(1).
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// With creates a child logger context with additional fields.
func With() zerolog.Context {
	return Logger.With()
}

// init gives the package a usable logger before Init runs.
func init() {
	Init()
}
