// Package sinks provides the progress sink implementations shipped with the
// orchestrator: structured logging and Prometheus counters.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/mvalko/scrape-orchestrator/internal/progress"
)

// LogSink writes each event as a structured log line. Useful in development
// and for audits where the event stream must be greppable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Backend != "" {
			fields = append(fields, zap.String("backend", string(evt.Backend)))
		}
		switch evt.Stage {
		case progress.StageGateDenied:
			fields = append(fields, zap.String("gate", evt.Gate))
		case progress.StageAttemptDone:
			fields = append(fields,
				zap.Bool("success", evt.Success),
				zap.Float64("cost", evt.Cost),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageJobDone:
			fields = append(fields,
				zap.String("state", string(evt.State)),
				zap.Float64("cost", evt.Cost),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("job progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; there is nothing to release.
func (s *LogSink) Close(context.Context) error {
	return nil
}
