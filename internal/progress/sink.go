package progress

import "context"

// Sink consumes batches of events. Implementations must honor ctx deadlines
// and tolerate being called concurrently with Close during shutdown.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it, so the executor
// stays agnostic about buffering and fan-out.
type Emitter interface {
	Emit(evt Event)
}
