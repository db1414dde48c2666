package sinks

import (
	"context"

	"github.com/mvalko/scrape-orchestrator/internal/metrics"
	"github.com/mvalko/scrape-orchestrator/internal/progress"
)

// PrometheusSink feeds job-level events into the shared Prometheus
// collectors: terminal states and admission denials. Attempt counters are
// not updated here; the profile store owns those at record time.
type PrometheusSink struct{}

// NewPrometheusSink creates a PrometheusSink.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

// Consume updates the collectors for every event in the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageGateDenied:
			metrics.ObserveAdmissionDenial(string(evt.Backend), evt.Gate)
		case progress.StageJobDone:
			metrics.ObserveJob(string(evt.State))
		}
	}
	return nil
}

// Close implements the Sink interface; collectors outlive the hub.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
