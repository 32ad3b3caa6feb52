package logutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fatih/color"
)

const LevelTrace slog.Level = -8

// NewLogger returns a text logger at level. Source locations are reduced to
// their base name and the TRACE level gets its own label.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level < slog.LevelInfo,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if attr.Value.Any().(slog.Level) == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

func Trace(msg string, args ...any) {
	slog.Default().Log(context.TODO(), LevelTrace, msg, args...)
}

var stageColor = color.New(color.FgCyan, color.Bold).SprintFunc()

// Stage logs a "=== title ===" banner and returns a func that logs the
// matching "=== Done title ===" banner with the elapsed time.
func Stage(title string) func() {
	slog.Info(stageColor(fmt.Sprintf("=== %s ===", title)))
	start := time.Now()
	return func() {
		slog.Info(stageColor(fmt.Sprintf("=== Done %s ===", title)), "elapsed", time.Since(start).Round(time.Millisecond))
	}
}
