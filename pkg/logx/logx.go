// Package logx provides structured logging with component-scoped loggers.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// LogEntry represents a structured log entry kept in the in-memory buffer.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// InMemoryLogBuffer stores recent log entries for diagnostics.
type InMemoryLogBuffer struct {
	entries []LogEntry
	mutex   sync.RWMutex
	maxSize int
}

//nolint:gochecknoglobals // Package-level debug flag and buffer
var (
	debugEnabled bool
	debugMutex   sync.RWMutex

	logBuffer = &InMemoryLogBuffer{
		entries: make([]LogEntry, 0),
		maxSize: 1000, // Keep last 1000 log entries
	}
)

func init() { //nolint:gochecknoinits // Required for env var initialization
	debugMutex.Lock()
	defer debugMutex.Unlock()
	v := strings.ToLower(os.Getenv("DEBUG"))
	debugEnabled = v == "1" || v == "true"
}

// NewLogger creates a logger scoped to a component name.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0),
	}
}

// SetDebug enables or disables debug-level output.
func SetDebug(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugEnabled = enabled
}

// IsDebugEnabled reports whether debug logging is active.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugEnabled
}

func (b *InMemoryLogBuffer) add(entry LogEntry) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// Recent returns entries logged at or after the given time.
func (b *InMemoryLogBuffer) Recent(since time.Time) []LogEntry {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	var out []LogEntry
	for i := range b.entries {
		ts, err := time.Parse(time.RFC3339, b.entries[i].Timestamp)
		if err == nil && !ts.Before(since) {
			out = append(out, b.entries[i])
		}
	}
	return out
}

// RecentEntries returns recent entries from the package-level buffer.
func RecentEntries(since time.Time) []LogEntry {
	return logBuffer.Recent(since)
}

func (l *Logger) log(level Level, format string, args ...any) {
	now := time.Now().UTC()
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s [%s] %s: %s", now.Format(time.RFC3339), level, l.component, msg)

	logBuffer.add(LogEntry{
		Timestamp: now.Format(time.RFC3339),
		Component: l.component,
		Level:     string(level),
		Message:   msg,
	})
}

// Debug logs a debug message when debug logging is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Component returns the component name this logger is scoped to.
func (l *Logger) Component() string {
	return l.component
}
