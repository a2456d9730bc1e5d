// Package logging is the diagnostic side channel for the fuzzer's own
// machinery: process lifecycle, init failures, run summaries. Syscall
// results are data, not diagnostics; they go to the trinitylog run logs
// instead. Because a run interleaves supervisor, worker, and watchdog
// output on one stderr stream, every logger built here stamps its lines
// with the owning process id, and the role/run/seed helpers below add
// the rest of the correlation attrs.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	mu     sync.RWMutex
	global = newProcessLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
)

// newProcessLogger stamps the pid attr every sysfuzz line carries.
func newProcessLogger(h slog.Handler) *slog.Logger {
	return slog.New(h).With(slog.Int("pid", os.Getpid()))
}

// Config holds the logger configuration.
type Config struct {
	// Level is the minimum log level.
	Level slog.Level
	// Format is the output format ("text" or "json").
	Format string
	// Output is the log output destination; nil means stderr.
	Output io.Writer
}

// NewLogger creates a pid-stamped structured logger with the given
// configuration.
func NewLogger(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return newProcessLogger(handler)
}

// SetDefault sets the process-wide logger.
func SetDefault(logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = logger
}

// Default returns the process-wide logger.
func Default() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// WithRole tags a logger with the process role (supervisor, child,
// watchdog), the first thing an operator filters an interleaved stream
// by.
func WithRole(logger *slog.Logger, role string) *slog.Logger {
	return logger.With(slog.String("role", role))
}

// WithRunID tags a logger with the run's UUID, letting an operator
// correlate every line across the supervisor, workers, and watchdog of
// one invocation, and across concurrent invocations on one host.
func WithRunID(logger *slog.Logger, id uuid.UUID) *slog.Logger {
	return logger.With(slog.String("run_id", id.String()))
}

// WithChild tags a worker's logger with its child slot index.
func WithChild(logger *slog.Logger, index int) *slog.Logger {
	return logger.With(slog.Int("child", index))
}

// WithSeed tags a logger with the run's reproduction seed, so any line
// an operator grabs from a crashed run names the seed that reproduces
// it.
func WithSeed(logger *slog.Logger, seed int64) *slog.Logger {
	return logger.With(slog.Int64("seed", seed))
}

// Info logs an info message on the process-wide logger.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs a warning message on the process-wide logger.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs an error message on the process-wide logger.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// Debug logs a debug message on the process-wide logger.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}
