package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Event is a single frame of the wire protocol. It travels in both
// directions: clients send action events (send_message, delete_message) and
// the engine pushes state events (load_messages, receive_message,
// remove_message).
type Event struct {
	// Dispatcher is the id of the connection the event arrived on.
	// It is zero for events originated by the server.
	Dispatcher int             `json:"-"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Dispatcher: %d, Type: %s, Payload.Size: %d}", e.Dispatcher, e.Type, len(e.Payload))
}

// NewEvent builds an event with a marshalled payload.
func NewEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

type EventHandler func(context.Context, *Event) error

// EventRouter dispatches inbound events to the handler registered for
// their type. Dispatch is synchronous: the next event is not consumed
// until the current handler returns, so actions arriving on one
// connection are applied in the order they were read.
type EventRouter struct {
	listeners map[string]EventHandler
	ctx       context.Context
	receive   <-chan *Event
	logger    *slog.Logger
}

func NewEventRouter(ctx context.Context, logger *slog.Logger, receive <-chan *Event) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		ctx:       ctx,
		receive:   receive,
		logger:    logger,
	}
}

func (em *EventRouter) On(eventType string, handler EventHandler) {
	if _, ok := em.listeners[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already exists", eventType))
	}
	em.listeners[eventType] = handler
}

// Listen consumes inbound events until the context is cancelled.
func (em *EventRouter) Listen(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-em.ctx.Done():
			return
		case e := <-em.receive:
			em.dispatch(e)
		}
	}
}

func (em *EventRouter) dispatch(e *Event) {
	handler, ok := em.listeners[e.Type]
	if !ok {
		em.logger.Error(fmt.Sprintf("handler for %s not found", e.Type))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			em.logger.Error(fmt.Sprintf("handler(%s) panicked: %v", e.Type, r))
		}
	}()
	if err := handler(em.ctx, e); err != nil {
		em.logger.Error(fmt.Sprintf("handler(%s): %v", e.Type, err))
	}
}
