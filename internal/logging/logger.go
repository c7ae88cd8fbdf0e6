package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RunLog represents a single activity-run audit entry: one row per
// terminal transition (end/discard/error) an Activity reaches, rather
// than per-function-invocation.
type RunLog struct {
	Timestamp   time.Time `json:"timestamp"`
	Activity    string    `json:"activity"`
	ActivityID  string    `json:"activity_id"`
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	DurationMs  int64     `json:"duration_ms"`
	Redelivered bool      `json:"redelivered,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Logger handles activity run logging.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a run log entry.
func (l *Logger) Log(entry *RunLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if entry.Error != "" {
			status = "✗"
		}
		redelivered := ""
		if entry.Redelivered {
			redelivered = " [redelivered]"
		}
		fmt.Printf("[run] %s %s %s %s %dms%s\n",
			status, entry.ActivityID, entry.Activity, entry.Status, entry.DurationMs, redelivered)
		if entry.Error != "" {
			fmt.Printf("[run]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
