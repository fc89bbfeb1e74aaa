package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// JSONLogEntry is one structured log line.
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type jsonLogger struct {
	metadata  map[string]interface{}
	component string
	traceID   string
	spanID    string
	level     LogLevel
	out       io.Writer
	mu        *sync.Mutex
	now       func() time.Time
	child     Logger
}

var _ Logger = (*jsonLogger)(nil)

func (c *jsonLogger) clone() *jsonLogger {
	cp := *c
	cp.metadata = cloneMetadata(c.metadata, nil)
	return &cp
}

func (c *jsonLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	clone.metadata = cloneMetadata(c.metadata, metadata)
	if comp, ok := clone.metadata["component"].(string); ok {
		clone.component = comp
		delete(clone.metadata, "component")
	}
	if clone.child != nil {
		clone.child = clone.child.With(metadata)
	}
	return clone
}

// WithPrefix will set or extend the component of every entry
func (c *jsonLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	prefix = strings.Trim(prefix, "[]")
	switch {
	case clone.component == "":
		clone.component = prefix
	case !strings.Contains(clone.component, prefix):
		clone.component = clone.component + " " + prefix
	}
	if clone.child != nil {
		clone.child = clone.child.WithPrefix(prefix)
	}
	return clone
}

// WithContext picks up the active span so entries correlate with traces.
func (c *jsonLogger) WithContext(ctx context.Context) Logger {
	clone := c.clone()
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		clone.traceID = sc.TraceID().String()
		clone.spanID = sc.SpanID().String()
	}
	if clone.child != nil {
		clone.child = clone.child.WithContext(ctx)
	}
	return clone
}

func (c *jsonLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.level
}

func (c *jsonLogger) log(level LogLevel, msg string, args ...interface{}) {
	if level < c.level {
		return
	}
	text := msg
	if len(args) > 0 {
		text = fmt.Sprintf(msg, args...)
	}
	entry := JSONLogEntry{
		Timestamp: c.now(),
		Severity:  level.String(),
		Message:   ansiColorStripper.ReplaceAllString(text, ""),
		Component: c.component,
		TraceID:   c.traceID,
		SpanID:    c.spanID,
		Metadata:  c.metadata,
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		buf, _ = json.Marshal(JSONLogEntry{Timestamp: entry.Timestamp, Severity: entry.Severity, Message: text})
	}
	buf = append(buf, '\n')
	c.mu.Lock()
	c.out.Write(buf)
	c.mu.Unlock()
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) {
	c.log(LevelTrace, msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *jsonLogger) Debug(msg string, args ...interface{}) {
	c.log(LevelDebug, msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *jsonLogger) Info(msg string, args ...interface{}) {
	c.log(LevelInfo, msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *jsonLogger) Warn(msg string, args ...interface{}) {
	c.log(LevelWarn, msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *jsonLogger) Error(msg string, args ...interface{}) {
	c.log(LevelError, msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *jsonLogger) Fatal(msg string, args ...interface{}) {
	c.Error(msg, args...)
	os.Exit(1)
}

func (c *jsonLogger) Stack(next Logger) Logger {
	clone := c.clone()
	clone.child = next
	return clone
}

// NewJSONLogger returns a Logger writing one JSON object per line to w.
func NewJSONLogger(w io.Writer, level LogLevel) Logger {
	return &jsonLogger{level: level, out: w, mu: &sync.Mutex{}, now: time.Now}
}
