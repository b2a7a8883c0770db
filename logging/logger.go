// Package logging provides consistent structured logging using slog.
//
// Every process in the Sijil deployment writes the same line format so logs
// can be correlated across services:
//
//	2026-01-06T14:05:52Z [source] LEVEL message key=value...
//
// Usage:
//
//	// Initialize once at startup
//	logging.Init("sijil")
//
//	// Then use slog directly throughout the codebase
//	slog.Info("Import complete", "uploaded", 1200)
//	slog.Error("Backup failed", "error", err)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LineHandler implements slog.Handler with the shared line format.
type LineHandler struct {
	source string
	level  slog.Level
	writer io.Writer
	attrs  []slog.Attr
	groups []string
}

// NewHandler creates a handler tagged with the given source.
func NewHandler(source string, w io.Writer, level slog.Level) *LineHandler {
	return &LineHandler{
		source: source,
		writer: w,
		level:  level,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes the log record.
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder
	buf.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05Z"))
	buf.WriteString(" [")
	buf.WriteString(h.source)
	buf.WriteString("] ")
	buf.WriteString(r.Level.String())
	buf.WriteString(" ")
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		h.writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&buf, a)
		return true
	})

	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *LineHandler) writeAttr(buf *strings.Builder, a slog.Attr) {
	buf.WriteString(" ")
	if len(h.groups) > 0 {
		buf.WriteString(strings.Join(h.groups, "."))
		buf.WriteString(".")
	}
	buf.WriteString(a.Key)
	buf.WriteString("=")
	fmt.Fprintf(buf, "%v", a.Value.Any())
}

// WithAttrs returns a new handler carrying the given attributes.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	clone.attrs = append(clone.attrs, attrs...)
	return &clone
}

// WithGroup returns a new handler with the given group appended.
func (h *LineHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = make([]string, 0, len(h.groups)+1)
	clone.groups = append(clone.groups, h.groups...)
	clone.groups = append(clone.groups, name)
	return &clone
}

// NewLogger creates a new slog logger, level taken from LOG_LEVEL (INFO default).
func NewLogger(source string, w io.Writer) *slog.Logger {
	return NewLoggerWithLevel(source, w, levelFromEnv())
}

// NewLoggerWithLevel creates a new slog logger at the specified level.
func NewLoggerWithLevel(source string, w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(source, w, level))
}

func levelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the default slog logger with the given source.
func Init(source string) {
	InitWithWriter(source, os.Stdout)
}

// InitWithWriter initializes the default slog logger with a custom writer (for testing).
func InitWithWriter(source string, w io.Writer) {
	slog.SetDefault(NewLogger(source, w))
}
