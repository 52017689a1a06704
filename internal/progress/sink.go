package progress

import "context"

// Sink consumes progress events. Implementations must honor ctx deadlines
// and tolerate being called from a single background goroutine.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// crawl engines stay agnostic about how events are buffered or exported.
type Emitter interface {
	Emit(evt Event)
}

// Nop is an Emitter that discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
