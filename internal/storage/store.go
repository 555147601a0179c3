package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/devghori1264/aerophoenix/vkd/internal/models"
)

var (
	ErrFoundDirectory = errors.New("expected file, found directory")
	ErrNoPath         = errors.New("no storage path set")
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Store persists instance records. A nil error from Upsert or Delete means the
// change is durable.
type Store interface {
	LoadAll(ctx context.Context) (map[string]models.StoredRecord, error)
	Upsert(ctx context.Context, id string, rec models.StoredRecord) error
	// Delete reports whether the record existed.
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend rooted at path.
func Open(backend, path string) (Store, error) {
	if path == "" {
		return nil, ErrNoPath
	}
	switch backend {
	case "", BackendFile:
		return NewFileStore(path)
	case BackendBadger:
		return NewBadgerStore(path)
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
