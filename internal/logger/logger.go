// Package logger owns the process-wide zerolog instance. Components derive
// child loggers from Logger; request handlers go through WithCtx so lines
// carry the request id.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	pkgctx "github.com/baechuer/sofauth/internal/pkg/context"
)

// Logger is the root logger. Init must run before anything logs through it.
var Logger zerolog.Logger

// Init configures the root logger onto stdout from LOG_LEVEL and LOG_FORMAT.
func Init() {
	InitWithWriter(os.Stdout)
}

// InitWithWriter is Init with an injectable sink, for tests.
func InitWithWriter(w io.Writer) {
	Logger = zerolog.New(sink(w)).With().Timestamp().Logger().Level(levelFromEnv())
	zlog.Logger = Logger
}

func levelFromEnv() zerolog.Level {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// sink wraps w for human-readable output unless LOG_FORMAT asks for json.
func sink(w io.Writer) io.Writer {
	if os.Getenv("LOG_FORMAT") == "json" {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// WithCtx returns a child logger carrying the request id when the context
// has one.
func WithCtx(ctx context.Context) zerolog.Logger {
	if id := pkgctx.GetRequestID(ctx); id != "" {
		return Logger.With().Str("request_id", id).Logger()
	}
	return Logger
}
