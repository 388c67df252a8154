package log

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// logControlCharReplacer escapes control characters that can be used for log injection (CWE-117).
var logControlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func sanitizeLogString(s string) string {
	return logControlCharReplacer.Replace(s)
}

// GoLogger is a Logger backed by the standard library log package.
//
// It is meant for local tooling and tests; services use the zap adapter.
// String values are sanitized to prevent log injection.
type GoLogger struct {
	Level  Level
	fields []Field
	groups []string
	out    *log.Logger
}

// NewGoLogger creates a GoLogger writing through the provided *log.Logger.
// A nil output falls back to log.Default().
func NewGoLogger(level Level, out *log.Logger) *GoLogger {
	if out == nil {
		out = log.Default()
	}

	return &GoLogger{Level: level, out: out}
}

// Enabled reports whether the logger emits events at the given level.
func (l *GoLogger) Enabled(level Level) bool {
	if l == nil {
		return false
	}

	return l.Level >= level
}

// Log writes one line: level, message and fields as key=value pairs.
func (l *GoLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	if !l.Enabled(level) {
		return
	}

	var b strings.Builder

	b.WriteString("[")
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(sanitizeLogString(msg))

	prefix := strings.Join(l.groups, ".")

	for _, f := range append(append([]Field{}, l.fields...), fields...) {
		key := f.Key
		if prefix != "" {
			key = prefix + "." + key
		}

		b.WriteString(" ")
		b.WriteString(sanitizeLogString(key))
		b.WriteString("=")
		b.WriteString(formatValue(f.Value))
	}

	out := l.out
	if out == nil {
		out = log.Default()
	}

	out.Print(b.String())
}

func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		return sanitizeLogString(value)
	case error:
		if value == nil {
			return "<nil>"
		}

		return sanitizeLogString(value.Error())
	default:
		return sanitizeLogString(fmt.Sprintf("%v", value))
	}
}

// With returns a child logger carrying the given fields.
//
//nolint:ireturn
func (l *GoLogger) With(fields ...Field) Logger {
	if l == nil {
		return &NopLogger{}
	}

	child := *l
	child.fields = append(append([]Field{}, l.fields...), fields...)

	return &child
}

// WithGroup returns a child logger whose field keys are prefixed by name.
//
//nolint:ireturn
func (l *GoLogger) WithGroup(name string) Logger {
	if l == nil {
		return &NopLogger{}
	}

	child := *l
	if name != "" {
		child.groups = append(append([]string{}, l.groups...), name)
	}

	return &child
}

// Sync is a no-op; the standard logger writes synchronously.
func (l *GoLogger) Sync(_ context.Context) error { return nil }
