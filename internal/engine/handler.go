package engine

// EventHandler processes one event type inside the actor loop.
type EventHandler interface {
	// Type returns the event type this handler processes.
	Type() EventType

	// Handle processes the event. traceID identifies the envelope for logs.
	Handle(ctx *HandlerContext, payload []byte, traceID string) error
}

// HandlerContext gives handlers access to engine internals without exposing
// the whole Engine to callers outside the loop.
type HandlerContext struct {
	engine *Engine
}

func NewHandlerContext(e *Engine) *HandlerContext {
	return &HandlerContext{engine: e}
}

// Engine returns the underlying engine. Handlers run on the loop goroutine
// and may touch actor-owned state freely.
func (c *HandlerContext) Engine() *Engine {
	return c.engine
}
