package core

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// MaxAttachmentSize is the admission ceiling for uploaded payloads.
const MaxAttachmentSize = 60 << 20

var (
	// ErrAttachmentTooLarge is returned when a payload exceeds
	// MaxAttachmentSize. The payload is rejected before any storage is
	// touched.
	ErrAttachmentTooLarge = errors.New("attachment exceeds 60 MB limit")
	// ErrAttachmentNotFound is returned when no attachment exists for a
	// reference.
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// AttachmentStore accepts binary payloads and returns opaque references
// usable as message bodies.
type AttachmentStore interface {
	// Put stores the payload and returns its reference.
	Put(data []byte) (string, error)
	// Get returns the payload and its detected content type.
	Get(ref string) ([]byte, string, error)
}

// BadgerAttachmentStore keeps attachment blobs in BadgerDB. Each attachment
// is two keys: the blob itself and the content type sniffed at store time.
type BadgerAttachmentStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerAttachmentStore opens the attachment database at dir.
// An empty dir opens an in-memory database, which tests rely on.
func NewBadgerAttachmentStore(dir string, logger *slog.Logger) (*BadgerAttachmentStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open attachment db: %w", err)
	}
	return &BadgerAttachmentStore{db: db, logger: logger}, nil
}

func (s *BadgerAttachmentStore) Close() error {
	return s.db.Close()
}

func blobKey(ref string) []byte {
	return []byte("attachment:blob:" + ref)
}

func metaKey(ref string) []byte {
	return []byte("attachment:meta:" + ref)
}

func (s *BadgerAttachmentStore) Put(data []byte) (string, error) {
	if len(data) > MaxAttachmentSize {
		return "", ErrAttachmentTooLarge
	}

	ref := uuid.New().String()
	contentType := mimetype.Detect(data).String()

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(ref), data); err != nil {
			return err
		}
		return txn.Set(metaKey(ref), []byte(contentType))
	})
	if err != nil {
		return "", fmt.Errorf("store attachment: %w", err)
	}

	s.logger.Debug("attachment stored",
		slog.String("ref", ref), slog.String("content_type", contentType), slog.Int("size", len(data)))
	return ref, nil
}

func (s *BadgerAttachmentStore) Get(ref string) ([]byte, string, error) {
	var (
		data        []byte
		contentType string
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(ref))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAttachmentNotFound
		}
		if err != nil {
			return err
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return err
		}

		item, err = txn.Get(metaKey(ref))
		if err != nil {
			return err
		}
		meta, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		contentType = string(meta)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAttachmentNotFound) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("load attachment %s: %w", ref, err)
	}
	return data, contentType, nil
}
