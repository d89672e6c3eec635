package engine

import "optexec/internal/logger"

// HandlerRegistry maps event types to their handlers.
type HandlerRegistry struct {
	handlers map[EventType]EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[EventType]EventHandler)}
}

// Register adds a handler, replacing any existing one for the same type.
func (r *HandlerRegistry) Register(h EventHandler) {
	if h == nil {
		return
	}
	r.handlers[h.Type()] = h
}

// Get returns the handler for the event type.
func (r *HandlerRegistry) Get(t EventType) (EventHandler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// RegisterDefaultHandlers installs all built-in handlers.
func (r *HandlerRegistry) RegisterDefaultHandlers() {
	r.Register(&TickHandler{})
	r.Register(&BarReadyHandler{})
	r.Register(&BarSweepHandler{})
	r.Register(&VIXSampleHandler{})
	r.Register(&OrderResultHandler{})
	r.Register(&EODCheckHandler{})
	r.Register(&TokenInvalidHandler{})
	r.Register(&ShutdownHandler{})
	r.Register(&FlattenForceHandler{})
	r.Register(&RiskTunablesHandler{})
	logger.Debugf("engine: registered %d event handlers", len(r.handlers))
}
