package pipeline

import (
	"time"

	"go.uber.org/zap"
)

// EventType names a pipeline lifecycle event.
type EventType string

const (
	EventStageStart EventType = "stage-start"
	EventStageEnd   EventType = "stage-end"
	EventStageError EventType = "stage-error"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// EventLevel is the severity attached to an event.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// Event is one pipeline observation delivered to registered handlers.
type Event struct {
	Type      EventType
	Stage     Stage
	Component ComponentType
	Timestamp time.Time
	Level     EventLevel
	Message   string
	// Metadata carries page id, component timings so far, validation results,
	// and cumulative processing time.
	Metadata map[string]any
}

// EventHandler consumes events synchronously.
type EventHandler func(Event)

// Emitter delivers events to handlers in registration order. Handlers run
// synchronously; a handler that panics is logged and does not disturb the
// pipeline.
type Emitter struct {
	handlers []EventHandler
	enabled  bool
	logger   *zap.Logger
}

// NewEmitter creates an emitter. When enabled is false every event is dropped.
func NewEmitter(enabled bool, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{enabled: enabled, logger: logger}
}

// Subscribe appends a handler. Not safe to call concurrently with Emit.
func (e *Emitter) Subscribe(handler EventHandler) {
	e.handlers = append(e.handlers, handler)
}

// Emit delivers the event to every handler in order.
func (e *Emitter) Emit(event Event) {
	if !e.enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for i, handler := range e.handlers {
		e.deliver(i, handler, event)
	}
}

func (e *Emitter) deliver(idx int, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event handler panicked",
				zap.Int("handler", idx),
				zap.String("event", string(event.Type)),
				zap.String("stage", string(event.Stage)),
				zap.Any("panic", r))
		}
	}()
	handler(event)
}
