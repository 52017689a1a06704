// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"webaudit/internal/progress"
)

// LogSink writes progress events to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID.String()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.URL != "" {
		fields = append(fields, zap.String("url", evt.URL))
	}
	if evt.Status != 0 {
		fields = append(fields, zap.Int("status", evt.Status))
	}
	if evt.Attempt != 0 {
		fields = append(fields, zap.Int("attempt", evt.Attempt))
	}
	if evt.Dur != 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	s.logger.Info("progress", fields...)
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
