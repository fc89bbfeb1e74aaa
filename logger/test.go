package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// String returns the formatted message.
func (e TestLogEntry) String() string {
	if len(e.Arguments) == 0 {
		return e.Message
	}
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testLog struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger records entries in memory. Loggers derived through With share
// the same record so assertions can be made on the root logger.
type TestLogger struct {
	metadata map[string]interface{}
	log      *testLog
	child    Logger
}

var _ Logger = (*TestLogger)(nil)

func (c *TestLogger) WithContext(ctx context.Context) Logger {
	return c
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	child := c.child
	if child != nil {
		child = child.With(metadata)
	}
	return &TestLogger{metadata: cloneMetadata(c.metadata, metadata), log: c.log, child: child}
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (c *TestLogger) record(severity string, msg string, args ...interface{}) {
	c.log.mu.Lock()
	c.log.entries = append(c.log.entries, TestLogEntry{severity, msg, args, c.metadata})
	c.log.mu.Unlock()
}

// Logs returns a copy of every recorded entry.
func (c *TestLogger) Logs() []TestLogEntry {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	return append([]TestLogEntry(nil), c.log.entries...)
}

// Count returns how many entries were recorded at severity.
func (c *TestLogger) Count(severity string) int {
	var n int
	for _, e := range c.Logs() {
		if e.Severity == severity {
			n++
		}
	}
	return n
}

// Contains reports whether an entry at severity has a formatted message containing substr.
func (c *TestLogger) Contains(severity string, substr string) bool {
	for _, e := range c.Logs() {
		if e.Severity == severity && strings.Contains(e.String(), substr) {
			return true
		}
	}
	return false
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.record("TRACE", msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.record("DEBUG", msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.record("INFO", msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.record("WARNING", msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.record("ERROR", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.record("FATAL", msg, args...)
	if c.child != nil {
		c.child.Fatal(msg, args...)
	}
	os.Exit(1)
}

func (c *TestLogger) Stack(next Logger) Logger {
	return &TestLogger{metadata: c.metadata, log: c.log, child: next}
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{log: &testLog{}}
}
