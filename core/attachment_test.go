package core

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setUpAttachmentStore(t *testing.T) *BadgerAttachmentStore {
	store, err := NewBadgerAttachmentStore("", slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestAttachmentRoundTrip(t *testing.T) {
	store := setUpAttachmentStore(t)

	// a RIFF/WAVE header is enough for content sniffing
	payload := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)

	ref, err := store.Put(payload)
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	data, contentType, err := store.Get(ref)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "audio/wav", contentType)
}

func TestAttachmentRefsAreUnique(t *testing.T) {
	store := setUpAttachmentStore(t)

	first, err := store.Put([]byte("same payload"))
	require.NoError(t, err)
	second, err := store.Put([]byte("same payload"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAttachmentSizeLimit(t *testing.T) {
	store := setUpAttachmentStore(t)

	_, err := store.Put(make([]byte, MaxAttachmentSize+1))
	require.ErrorIs(t, err, ErrAttachmentTooLarge)

	ref, err := store.Put(make([]byte, MaxAttachmentSize))
	require.NoError(t, err, "a payload at the limit must be accepted")
	data, _, err := store.Get(ref)
	require.NoError(t, err)
	assert.Len(t, data, MaxAttachmentSize)
}

func TestAttachmentNotFound(t *testing.T) {
	store := setUpAttachmentStore(t)

	_, _, err := store.Get("no-such-ref")
	require.ErrorIs(t, err, ErrAttachmentNotFound)
}
