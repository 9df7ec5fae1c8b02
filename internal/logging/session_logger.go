package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches every record to two
// handlers. Used by NewConnectionLogger to write simultaneously to the
// process-wide handler and a connection's dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Each handler's Enabled() is checked individually so a DEBUG record
	// isn't forwarded to a primary handler configured for INFO-and-above.
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the connection log must not suppress the global log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewConnectionLogger builds a logger that writes both to baseLogger and to
// a dedicated per-connection file at:
//
//	{connLogDir}/{vhost}/{connID}.log
//
// Returns the enriched logger, an io.Closer for the connection file, and the
// file's path (connLogDir joined with vhost and connID). The Closer must be
// called when the connection ends.
//
// If connLogDir is empty, NewConnectionLogger returns baseLogger unmodified
// (no-op) — this is the default; per-connection tracing is turned on for
// every connection by setting tcpserver's ConnLogDir (conn_log_dir).
func NewConnectionLogger(baseLogger *slog.Logger, connLogDir, vhost, connID string) (*slog.Logger, io.Closer, string, error) {
	if connLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	dir := filepath.Join(connLogDir, vhost)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating connection log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, connID+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening connection log file %s: %w", logPath, err)
	}

	// The per-connection file always runs at DEBUG for maximum capture.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveConnectionLog removes a finished connection's log file. No-op if
// connLogDir is empty or the file doesn't exist.
func RemoveConnectionLog(connLogDir, vhost, connID string) {
	if connLogDir == "" {
		return
	}
	logPath := filepath.Join(connLogDir, vhost, connID+".log")
	os.Remove(logPath)
}
