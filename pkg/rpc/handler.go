package rpc

import "context"

// Handler processes one RPC message and returns the response.
type Handler interface {
	Handle(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// Dispatcher routes messages to handlers by method name. Registration
// happens at startup; Dispatch may then be called concurrently.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register registers a handler for a method.
func (d *Dispatcher) Register(method string, handler Handler) {
	d.handlers[method] = handler
}

// RegisterFunc registers a handler function for a method.
func (d *Dispatcher) RegisterFunc(method string, handler HandlerFunc) {
	d.handlers[method] = handler
}

// Dispatch routes a message to its handler. Unknown methods produce a
// distinct error response rather than a Go error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	handler, ok := d.handlers[msg.Method]
	if !ok {
		return NewError(msg.ID, msg.Method, ErrorCodeUnknownMethod,
			"unknown method: "+msg.Method, nil)
	}
	return handler.Handle(ctx, msg)
}

// HasHandler reports whether a handler is registered for the method.
func (d *Dispatcher) HasHandler(method string) bool {
	_, ok := d.handlers[method]
	return ok
}

// Methods returns the registered method names.
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.handlers))
	for m := range d.handlers {
		out = append(out, m)
	}
	return out
}
