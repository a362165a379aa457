package utils

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mdobak/go-xerrors"
)

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

var (
	loggerOnce sync.Once
	logger     *slog.Logger
)

// GetLogger returns the process-wide structured logger. Errors wrapped with
// xerrors carry stack traces which are expanded into the log record.
func GetLogger() *slog.Logger {
	loggerOnce.Do(func() {
		level := slog.LevelInfo
		if GetEnv("LOG_LEVEL", "info") == "debug" {
			level = slog.LevelDebug
		}
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceAttr,
		})
		logger = slog.New(handler)
	})
	return logger
}

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindAny:
		if err, ok := attr.Value.Any().(error); ok {
			attr.Value = formatError(err)
		}
	}
	return attr
}

// formatError renders an error as a group with the message and, when the
// error carries one, the stack trace recorded by xerrors.
func formatError(err error) slog.Value {
	attrs := []slog.Attr{
		slog.String("msg", err.Error()),
	}

	trace := xerrors.StackTrace(err)
	if len(trace) > 0 {
		frames := trace.Frames()
		converted := make([]stackFrame, 0, len(frames))
		for _, frame := range frames {
			converted = append(converted, stackFrame{
				Func:   filepath.Base(frame.Function),
				Source: filepath.Join(filepath.Base(filepath.Dir(frame.File)), filepath.Base(frame.File)),
				Line:   frame.Line,
			})
		}
		attrs = append(attrs, slog.Any("trace", converted))
	}

	return slog.GroupValue(attrs...)
}
