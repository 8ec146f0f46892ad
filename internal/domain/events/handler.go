package events

import "context"

// Handler processes events dispatched by the bus. A handler declares the
// event types it wants; the bus only invokes it for those.
//
// Handle runs on a bus worker goroutine under a per-invocation deadline.
// Returning an error marks the invocation failed; it does not stop
// delivery to other handlers.
type Handler interface {
	// Name identifies the handler in logs and metrics.
	Name() string

	// EventTypes returns the event types this handler subscribes to.
	EventTypes() []Type

	// Handle processes a single event.
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HandlerName string
	Types       []Type
	Fn          func(ctx context.Context, event Event) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) EventTypes() []Type { return h.Types }

func (h HandlerFunc) Handle(ctx context.Context, event Event) error {
	return h.Fn(ctx, event)
}
