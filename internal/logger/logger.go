package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	globalLevel = slog.LevelDebug
	levelMutex  sync.RWMutex
)

// JSONParsingWriter wraps an io.Writer and rewrites JSON log lines emitted by
// libraries (sipgo, grpc) into the same compact format as our own logs.
type JSONParsingWriter struct {
	base io.Writer
}

// NewJSONParsingWriter wraps w.
func NewJSONParsingWriter(w io.Writer) *JSONParsingWriter {
	return &JSONParsingWriter{base: w}
}

// Write implements io.Writer
func (w *JSONParsingWriter) Write(p []byte) (int, error) {
	if !strings.HasPrefix(strings.TrimSpace(string(p)), "{") {
		return w.base.Write(p)
	}

	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err != nil {
		return w.base.Write(p)
	}

	level := "info"
	if lv, ok := entry["level"]; ok {
		level = fmt.Sprint(lv)
	}
	message := "unknown"
	for _, key := range []string{"message", "msg"} {
		if msg, ok := entry[key]; ok {
			message = fmt.Sprint(msg)
			break
		}
	}
	timestamp := time.Now().Format("15:04:05")
	if t, ok := entry["time"]; ok {
		if ts, err := time.Parse(time.RFC3339, fmt.Sprint(t)); err == nil {
			timestamp = ts.Format("15:04:05")
		}
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "level", "message", "msg", "time", "caller":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, strings.ToUpper(level), message)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry[k])
	}
	b.WriteString("\n")

	if _, err := w.base.Write([]byte(b.String())); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetLevel sets the global log level
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	levelMutex.Lock()
	defer levelMutex.Unlock()
	globalLevel = level
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	levelMutex.RLock()
	defer levelMutex.RUnlock()

	switch globalLevel {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "debug"
	}
}

// ParseLevel parses a string to an slog level
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

func enabled(level slog.Level) bool {
	levelMutex.RLock()
	defer levelMutex.RUnlock()
	return level >= globalLevel
}

// output is shared between a handler and the handlers derived from it with
// WithAttrs/WithGroup so that writes stay serialized.
type output struct {
	mu   sync.Mutex
	outs []io.Writer
}

// handler renders "[15:04:05] [LEVEL] msg k=v" lines.
type handler struct {
	out    *output
	prefix string // rendered attrs from WithAttrs
	group  string
}

// Handle implements slog.Handler
func (h *handler) Handle(_ context.Context, record slog.Record) error {
	if !enabled(record.Level) {
		return nil
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(record.Time.Format("15:04:05"))
	b.WriteString("] [")
	b.WriteString(strings.ToUpper(record.Level.String()))
	b.WriteString("] ")
	b.WriteString(record.Message)
	b.WriteString(h.prefix)
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteString("\n")
	line := []byte(b.String())

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	for _, w := range h.out.outs {
		if w != nil {
			_, _ = w.Write(line)
		}
	}
	return nil
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	b.WriteString(" ")
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(a.Value.String())
}

// WithAttrs implements slog.Handler
func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	return &handler{out: h.out, prefix: b.String(), group: h.group}
}

// WithGroup implements slog.Handler
func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &handler{out: h.out, prefix: h.prefix, group: group}
}

// Enabled implements slog.Handler
func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return enabled(level)
}

// NewHandler returns the project handler writing to outputs.
func NewHandler(outputs ...io.Writer) slog.Handler {
	return &handler{out: &output{outs: outputs}}
}

// InitLogger initializes the global logger with one or more output writers
func InitLogger(outputs ...io.Writer) {
	wrapped := make([]io.Writer, len(outputs))
	for i, out := range outputs {
		wrapped[i] = NewJSONParsingWriter(out)
	}
	slog.SetDefault(slog.New(NewHandler(wrapped...)))
}

// Convenience functions that use the default logger
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}
