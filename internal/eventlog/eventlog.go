// Package eventlog provides the timestamped run log shared by the
// orchestrator, supervisor, workers, and monitor. Every line carries
// the emitting agent and an event name, appended to the run's log file
// and mirrored to the console with per-agent colors.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// agentColors maps agent names to console colors.
var agentColors = map[string]*color.Color{
	"orchestrator": color.New(color.FgMagenta),
	"supervisor":   color.New(color.FgCyan),
	"worker":       color.New(color.FgGreen),
	"monitor":      color.New(color.FgYellow),
	"system":       color.New(color.FgWhite),
}

// Logger appends timestamped events to a log file and optionally echoes
// them to the console. The zero value is a no-op logger.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	console bool
}

// New creates a logger writing to the given path, creating parent
// directories as needed. If console is true, events are also printed to
// stdout with per-agent colors.
func New(logPath string, console bool) (*Logger, error) {
	if logPath == "" {
		return &Logger{console: console}, nil
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{file: f, console: console}, nil
}

// ForWorkspace creates a logger at the workspace's default log path.
// Returns a no-op logger if the file cannot be opened.
func ForWorkspace(workspace string, console bool) *Logger {
	l, err := New(filepath.Join(workspace, ".foreman", "run.log"), console)
	if err != nil {
		return &Logger{console: console}
	}
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{}
}

// Event writes one log line for the given agent and event name.
func (l *Logger) Event(agent, event, format string, args ...interface{}) {
	if l == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	// Long payloads (patches, stack traces) are truncated in the run log.
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}
	line := fmt.Sprintf("[%s] [%s] %s: %s",
		time.Now().Format("15:04:05"),
		strings.ToUpper(agent),
		strings.ToUpper(event),
		msg,
	)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
	if l.console {
		c, ok := agentColors[agent]
		if !ok {
			c = agentColors["system"]
		}
		c.Println(line)
	}
}

// Close closes the log file. Safe on a nil or no-op logger.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.file.Close()
	l.file = nil
	return err
}
