package imgview

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/imgview/internal/compute"
	"github.com/gogpu/imgview/internal/device"
	"github.com/gogpu/imgview/internal/gpu"
	"github.com/gogpu/imgview/internal/raster"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for imgview and all its internal
// packages. By default, imgview produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore silence.
//
// Log levels used by imgview:
//   - [slog.LevelDebug]: resource churn (buffers, viewports, generations)
//   - [slog.LevelInfo]: lifecycle events (device selected, queue mode)
//   - [slog.LevelWarn]: failed draws and compute passes, skipped platforms
//
// Example:
//
//	imgview.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	gpu.SetLogger(l)
	device.SetLogger(l)
	compute.SetLogger(l)
	raster.SetLogger(l)
}

// Logger returns the current logger used by imgview.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }
