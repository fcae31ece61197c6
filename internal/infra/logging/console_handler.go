package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const (
	ansiCodeReset     = "\033[0m"
	ansiCodeRed       = "\033[31m"
	ansiCodeGreen     = "\033[32m"
	ansiCodeYellow    = "\033[33m"
	ansiCodeCyan      = "\033[36m"
	ansiCodeGray      = "\033[90m"
	ansiCodeUnderline = "\033[4m"
)

//nolint:gochecknoglobals
var ansiCodeMap = map[slog.Level]string{
	slog.LevelDebug: ansiCodeCyan,
	slog.LevelInfo:  ansiCodeGreen,
	slog.LevelWarn:  ansiCodeYellow,
	slog.LevelError: ansiCodeRed,
}

// ConsoleHandler implements slog.Handler with colored, human-readable output for
// development.
type ConsoleHandler struct {
	// Output is the destination for log output (typically os.Stdout or os.Stderr)
	Output io.Writer
	// Level is the minimum level for log records to be processed
	Level slog.Leveler
	// PkgLevels maps logger name prefixes to minimum log levels. The longest
	// matching prefix wins over Level.
	PkgLevels map[string]slog.Level

	attrs  []slog.Attr
	groups []string
}

var _ slog.Handler = (*ConsoleHandler)(nil)

// Handle implements slog.Handler.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var attrs []slog.Attr

	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)

		return true
	})

	attrs = append(attrs, h.attrs...)

	if r.Level < h.minLevel(attrs) {
		return nil
	}

	logMessage := ansiCodeGray + r.Time.Format("15:04:05.000000") + ansiCodeReset
	logMessage += " " + ansiCodeMap[r.Level] + "[" + r.Level.String() + "]" + ansiCodeReset
	logMessage += " " + r.Message

	var prefix string

	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	if len(attrs) > 0 {
		logMessage += " " + ansiCodeGray + "|" + ansiCodeReset
		logMessage += h.renderAttrs(prefix, attrs)
	}

	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		fn := strings.Split(f.Function, string(os.PathSeparator))

		logMessage += "\n-> " + ansiCodeGray + fn[len(fn)-1] + "()"
		logMessage += " in " + ansiCodeUnderline + f.File + ":" + strconv.Itoa(f.Line) + ansiCodeReset
	}

	if _, err := fmt.Fprintln(h.Output, logMessage); err != nil {
		return fmt.Errorf("write log: %w", err)
	}

	return nil
}

// minLevel resolves the effective level for the logger named in attrs.
func (h *ConsoleHandler) minLevel(attrs []slog.Attr) slog.Level {
	var name string

	for _, attr := range attrs {
		if attr.Key == loggerNameKey {
			name = attr.Value.String()

			break
		}
	}

	parts := strings.Split(name, ".")

	for i := len(parts); i > 0; i-- {
		if level, ok := h.PkgLevels[strings.Join(parts[:i], ".")]; ok {
			return level
		}
	}

	return h.Level.Level()
}

func (h *ConsoleHandler) renderAttrs(prefix string, attrs []slog.Attr) (out string) {
	for _, attr := range attrs {
		if attr.Value.Kind() == slog.KindGroup {
			out += h.renderAttrs(prefix+attr.Key+".", attr.Value.Group())

			continue
		}

		out += " " + prefix + attr.Key
		out += "=" + ansiCodeGray + attr.Value.String() + ansiCodeReset
	}

	return
}

// WithAttrs implements slog.Handler.WithAttrs.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) Handler {
	return &ConsoleHandler{
		Output:    h.Output,
		Level:     h.Level,
		PkgLevels: h.PkgLevels,
		attrs:     append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups:    h.groups,
	}
}

// WithGroup implements slog.Handler.WithGroup.
func (h *ConsoleHandler) WithGroup(name string) Handler {
	return &ConsoleHandler{
		Output:    h.Output,
		Level:     h.Level,
		PkgLevels: h.PkgLevels,
		attrs:     h.attrs,
		groups:    append(append([]string{}, h.groups...), name),
	}
}

// Enabled implements slog.Handler.Enabled. Records below Level still pass when a
// package override could admit them; Handle makes the final call.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := h.Level.Level()

	for _, pkgLevel := range h.PkgLevels {
		minLevel = min(minLevel, pkgLevel)
	}

	return minLevel <= level
}
