package taskgraph

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with graph execution.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger used by taskgraph. By default nothing is
// logged. Pass nil to restore the silent default.
//
// Log levels used by taskgraph:
//   - [slog.LevelDebug]: compile statistics, per-execution re-patching
//   - [slog.LevelInfo]: graph completion
//   - [slog.LevelWarn]: non-fatal issues (backend degradations, leaked resources)
//
// Devices that implement SetLogger(*slog.Logger) receive the logger when a
// Context is created for them and whenever SetLogger is called afterwards.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	contextsMu.Lock()
	defer contextsMu.Unlock()
	for wp := range contexts {
		if c := wp.Value(); c != nil {
			propagateLogger(c.dev, l)
		}
	}
}

// Logger returns the current logger. Backends call this to share the same
// configuration.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(dev any, l *slog.Logger) {
	if ls, ok := dev.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
