package service

import (
	"fmt"
	"log/slog"
	"time"
)

// LoggerService is logger_service: delegates to Wrapped, then emits one
// line to Sink after the downstream response has been sent. It must not
// consume the response — it only observes tx after Wrapped.Serve returns.
type LoggerService struct {
	Sink    *slog.Logger
	Wrapped Service
}

// NewLoggerService builds a LoggerService wrapping svc.
func NewLoggerService(sink *slog.Logger, svc Service) *LoggerService {
	return &LoggerService{Sink: sink, Wrapped: svc}
}

func (l *LoggerService) Serve(tx *Transaction) error {
	start := time.Now()
	err := l.Wrapped.Serve(tx)
	l.Sink.Info(fmt.Sprintf("%s %s %s %s %d %d",
		start.Format(time.RFC3339), tx.Stream.RemoteAddr(), tx.Request.Method,
		tx.Request.Path, statusOf(tx), tx.BytesWritten()))
	return err
}

func statusOf(tx *Transaction) int {
	if !tx.ResponseSent() {
		return 0
	}
	return tx.Writer.Status()
}

var _ Service = (*LoggerService)(nil)
