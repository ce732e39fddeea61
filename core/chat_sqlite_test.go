package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsSequentialIDs(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()

	var appended []*Message
	for i := 0; i < 5; i++ {
		msg, err := f.store.Append(f.ctx, textInput("alice", fmt.Sprintf("message %d", i)))
		require.NoError(t, err)
		appended = append(appended, msg)
	}

	for i := 1; i < len(appended); i++ {
		assert.Greater(t, appended[i].ID, appended[i-1].ID, "ids must increase in append order")
	}

	messages, err := f.store.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, messages, len(appended))
	for i, msg := range messages {
		assert.Equal(t, appended[i].ID, msg.ID)
		assert.Equal(t, appended[i].Body, msg.Body)
		assert.Equal(t, appended[i].Author, msg.Author)
		assert.Equal(t, TextMessage, msg.Kind)
	}
}

func TestAppendCreatedAtNeverDecreases(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()

	var prev time.Time
	for i := 0; i < 20; i++ {
		msg, err := f.store.Append(f.ctx, textInput("bob", "tick"))
		require.NoError(t, err)
		require.False(t, msg.CreatedAt.Before(prev),
			"created_at went backwards: %v before %v", msg.CreatedAt, prev)
		prev = msg.CreatedAt
	}
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()

	_, err := f.store.Append(f.ctx, MessageCreateInput{Author: "alice", Kind: TextMessage})
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = f.store.Append(f.ctx, MessageCreateInput{Author: "alice", Kind: "video", Body: "x"})
	require.ErrorIs(t, err, ErrInvalidMessage)

	messages, err := f.store.List(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, messages, "rejected input must not add a record")
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()

	msg, err := f.store.Append(f.ctx, textInput("alice", "to be deleted"))
	require.NoError(t, err)
	keep, err := f.store.Append(f.ctx, textInput("bob", "to be kept"))
	require.NoError(t, err)

	found, err := f.store.Remove(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, found)

	// removing again, or removing an absent id, is not an error
	found, err = f.store.Remove(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = f.store.Remove(f.ctx, 424242)
	require.NoError(t, err)
	assert.False(t, found)

	messages, err := f.store.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, keep.ID, messages[0].ID)
}

func TestListEmptyLog(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()

	messages, err := f.store.List(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestPersistenceErrorSurfaces(t *testing.T) {
	f := NewBaseFixture(t)
	f.tearDown()

	_, err := f.store.Append(f.ctx, textInput("alice", "after close"))
	require.Error(t, err)
	var perr *PersistenceError
	assert.True(t, errors.As(err, &perr), "store failures must be a *PersistenceError, got %T", err)
}
