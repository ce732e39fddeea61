package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// SQLiteMessageStore is a MessageStore backed by SQLite.
//
// SQLite serializes writers, so the linearization the MessageStore contract
// requires falls out of the database itself. The store only adds a small
// clamp on created_at to keep it monotonically non-decreasing when the wall
// clock steps backwards between appends.
type SQLiteMessageStore struct {
	db *sql.DB

	mu            sync.Mutex
	lastCreatedAt time.Time
}

func NewSQLiteMessageStore(db *sql.DB) *SQLiteMessageStore {
	return &SQLiteMessageStore{db: db}
}

func (s *SQLiteMessageStore) Append(ctx context.Context, input MessageCreateInput) (*Message, error) {
	if err := input.Validate(); err != nil {
		return nil, ErrInvalidMessage
	}

	switch input.Kind {
	case TextMessage, AudioMessage, FileMessage:
	default:
		return nil, ErrInvalidMessageKind
	}

	createdAt := s.nextCreatedAt()

	query := `
	INSERT INTO messages (author, kind, body, created_at)
	VALUES (@author, @kind, @body, @created_at) RETURNING id`
	row := s.db.QueryRowContext(ctx, query,
		sql.Named("author", input.Author), sql.Named("kind", input.Kind),
		sql.Named("body", input.Body), sql.Named("created_at", createdAt))

	var id int
	if err := row.Scan(&id); err != nil {
		return nil, NewPersistenceError("insert message", err)
	}

	return &Message{
		ID:        id,
		Author:    input.Author,
		Kind:      input.Kind,
		Body:      input.Body,
		CreatedAt: createdAt,
	}, nil
}

// nextCreatedAt assigns the creation timestamp for an append. Timestamps
// never go backwards in append order even if the wall clock does.
func (s *SQLiteMessageStore) nextCreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	createdAt := time.Now().UTC()
	if createdAt.Before(s.lastCreatedAt) {
		createdAt = s.lastCreatedAt
	}
	s.lastCreatedAt = createdAt
	return createdAt
}

func (s *SQLiteMessageStore) Remove(ctx context.Context, id int) (bool, error) {
	query := `
	UPDATE messages SET deleted = TRUE
	WHERE id = @id AND deleted = FALSE`
	res, err := s.db.ExecContext(ctx, query, sql.Named("id", id))
	if err != nil {
		return false, NewPersistenceError("mark message deleted", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, NewPersistenceError("rows affected", err)
	}
	return affected > 0, nil
}

func (s *SQLiteMessageStore) List(ctx context.Context) ([]Message, error) {
	query := `
	SELECT id, author, kind, body, created_at
	FROM messages
	WHERE deleted = FALSE
	ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewPersistenceError("select messages", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var message Message
		if err := rows.Scan(&message.ID, &message.Author, &message.Kind,
			&message.Body, &message.CreatedAt); err != nil {
			return nil, NewPersistenceError("scan message", err)
		}
		message.CreatedAt = message.CreatedAt.UTC()
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, NewPersistenceError(fmt.Sprintf("iterate %d messages", len(messages)), err)
	}

	return messages, nil
}
