package observability

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger writes text locally and JSON in production. A non-empty file adds
// a rotated copy of the output.
func NewLogger(env, file string) *slog.Logger {
	return NewLoggerTo(os.Stdout, env, file)
}

func NewLoggerTo(out io.Writer, env, file string) *slog.Logger {
	if file != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}
	if env == "prod" || env == "production" {
		return slog.New(slog.NewJSONHandler(out, nil))
	}
	return slog.New(slog.NewTextHandler(out, nil))
}
