package core

import (
	"context"
	"errors"
	"time"
)

const (
	// TextMessage indicates that the message body is a UTF-8 encoded string.
	TextMessage MessageKind = "text"
	// AudioMessage indicates that the message body is an attachment
	// reference pointing to an audio recording.
	AudioMessage MessageKind = "audio"
	// FileMessage indicates that the message body is an attachment
	// reference pointing to an arbitrary uploaded file.
	FileMessage MessageKind = "file"
)

// MessageKind represents the kind of a chat message.
// It is used to determine how the message body should be interpreted.
type MessageKind = string

// Message represents a chat message in the shared log.
// A message is immutable once appended; the only state change it can
// undergo is a logical delete, which excludes it from listings.
type Message struct {
	ID int `json:"id"`
	// Author is the display name chosen by the sending client.
	// It is opaque to the engine and carries no identity guarantees.
	Author string `json:"author"`
	// Kind is used to determine how the message body should be interpreted.
	Kind MessageKind `json:"kind"`
	// Body is either inline text or an attachment reference, depending on Kind.
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	// ErrInvalidMessage is returned when a message input fails validation.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidMessageKind is returned when the kind of the message is not supported.
	ErrInvalidMessageKind = errors.New("invalid message kind")
)

// MessageCreateInput represents the input for appending a message.
type MessageCreateInput struct {
	Author string      `json:"author" validate:"required"`
	Kind   MessageKind `json:"kind" validate:"required,oneof=text audio file"`
	Body   string      `json:"body" validate:"required"`
	// ClientID is an optional provisional id chosen by the sending client.
	// It is never the source of truth; it is only echoed back in the
	// resulting receive_message broadcast for correlation.
	ClientID string `json:"client_id,omitempty"`
}

// Validate validates the message input.
func (m *MessageCreateInput) Validate() error {
	return validate.Struct(m)
}

// MessageStore is a durable, strictly ordered record of all messages ever
// appended. Implementations must linearize Append, Remove and List with
// respect to each other: two concurrent appends produce a total order, and
// a listing never observes a half-applied mutation.
type MessageStore interface {

	// Append assigns the message its id and creation time, persists it and
	// returns the stored record. The creation times of successive appends
	// are monotonically non-decreasing. If the durable write fails a
	// *PersistenceError is returned and no record is added.
	Append(ctx context.Context, input MessageCreateInput) (*Message, error)

	// Remove marks the message with the given id as deleted and reports
	// whether a live record existed. Removing an absent or already-deleted
	// id is not an error.
	Remove(ctx context.Context, id int) (bool, error)

	// List returns all non-deleted messages in append order.
	// A nil error with an empty slice means the log is empty.
	List(ctx context.Context) ([]Message, error)
}
