package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const (
	// Client to server actions.
	SendMessageEvent   = "send_message"
	DeleteMessageEvent = "delete_message"

	// Server to client state events.
	LoadMessagesEvent   = "load_messages"
	ReceiveMessageEvent = "receive_message"
	RemoveMessageEvent  = "remove_message"
)

// ReceiveMessagePayload is the payload of a receive_message event. It
// carries the full stored message plus the client's provisional id, echoed
// back untouched so the sender can correlate the broadcast with its own
// optimistic insert.
type ReceiveMessagePayload struct {
	Message
	ClientID string `json:"client_id,omitempty"`
}

// RemoveMessagePayload is the payload of a remove_message event. Consumers
// are expected to treat removal of an id they do not know as a no-op.
type RemoveMessagePayload struct {
	ID int `json:"id"`
}

// ChatLog keeps every connected client's view of the shared message log
// consistent. It is the single serialization point for the system: appends,
// removes and joins all run under one mutex, so the store's total mutation
// order and the order events are enqueued on each connection are the same
// order.
//
// Broadcasting inside the critical section is safe because Send only
// enqueues into per-connection buffers; the actual network writes happen in
// each connection's write loop and can never block a mutation.
type ChatLog struct {
	mu     sync.Mutex
	store  MessageStore
	conns  *ConnManager
	logger *slog.Logger
}

func NewChatLog(store MessageStore, conns *ConnManager, logger *slog.Logger) *ChatLog {
	return &ChatLog{
		store:  store,
		conns:  conns,
		logger: logger,
	}
}

// Append persists the message and broadcasts a receive_message event to
// every registered connection, the sender's included. If persistence fails
// nothing is broadcast and the error is returned to the caller.
func (l *ChatLog) Append(ctx context.Context, input MessageCreateInput) (*Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg, err := l.store.Append(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("Append: %w", err)
	}

	e, err := NewEvent(ReceiveMessageEvent, ReceiveMessagePayload{
		Message:  *msg,
		ClientID: input.ClientID,
	})
	if err != nil {
		l.logger.Error(fmt.Sprintf("encode %s: %v", ReceiveMessageEvent, err))
		return msg, nil
	}
	l.conns.Send(e)

	return msg, nil
}

// Remove marks the message deleted and broadcasts a remove_message event.
// The broadcast happens whether or not a record existed: consumers filter
// idempotently, and suppressing the event would leak the distinction for no
// benefit. A persistence failure broadcasts nothing.
func (l *ChatLog) Remove(ctx context.Context, id int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	found, err := l.store.Remove(ctx, id)
	if err != nil {
		return false, fmt.Errorf("Remove: %w", err)
	}

	e, err := NewEvent(RemoveMessageEvent, RemoveMessagePayload{ID: id})
	if err != nil {
		l.logger.Error(fmt.Sprintf("encode %s: %v", RemoveMessageEvent, err))
		return found, nil
	}
	l.conns.Send(e)

	return found, nil
}

// Join registers the connection and reads its snapshot as one atomic step
// with respect to Append and Remove. The connection starts receiving
// broadcasts from the moment it is registered, and the snapshot is read
// before the mutex is released, so no mutation can land between the two:
// every message is either in the snapshot or delivered live, never both,
// never neither.
func (l *ChatLog) Join(ctx context.Context, conn *Conn) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.conns.register(conn)

	messages, err := l.store.List(ctx)
	if err != nil {
		l.conns.unregister(conn.ID())
		return nil, fmt.Errorf("List: %w", err)
	}
	if messages == nil {
		messages = []Message{}
	}

	e, err := NewEvent(LoadMessagesEvent, messages)
	if err != nil {
		l.conns.unregister(conn.ID())
		return nil, fmt.Errorf("encode %s: %w", LoadMessagesEvent, err)
	}
	if !conn.trySend(e) {
		l.conns.unregister(conn.ID())
		return nil, fmt.Errorf("connection %d: write buffer full on join", conn.ID())
	}

	return messages, nil
}

// List returns the current snapshot without registering anything. It is the
// read path of the HTTP history endpoint.
func (l *ChatLog) List(ctx context.Context) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.List(ctx)
}
