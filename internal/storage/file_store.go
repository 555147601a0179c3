package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/devghori1264/aerophoenix/vkd/internal/models"
)

type fileData struct {
	Instances map[string]models.StoredRecord `json:"instances"`
}

// FileStore keeps every record in one JSON document that is rewritten
// atomically on each change.
type FileStore struct {
	path string

	mu   sync.Mutex
	data fileData
}

// NewFileStore loads path, or creates it with an empty document when missing.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: filepath.Clean(path),
		data: fileData{Instances: map[string]models.StoredRecord{}},
	}

	info, err := os.Stat(s.path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrFoundDirectory, s.path)
	case err == nil:
		if err := s.load(); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
		if err := s.flush(s.data); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return s, nil
}

func (s *FileStore) LoadAll(ctx context.Context) (map[string]models.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data.Instances), nil
}

func (s *FileStore) Upsert(ctx context.Context, id string, rec models.StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fileData{Instances: maps.Clone(s.data.Instances)}
	next.Instances[id] = rec
	if err := s.flush(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Instances[id]; !ok {
		return false, nil
	}
	next := fileData{Instances: maps.Clone(s.data.Instances)}
	delete(next.Instances, id)
	if err := s.flush(next); err != nil {
		return false, err
	}
	s.data = next
	return true, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	if data.Instances == nil {
		data.Instances = map[string]models.StoredRecord{}
	}
	s.data = data
	return nil
}

func (s *FileStore) flush(data fileData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}
	return writeFileAtomic(s.path, append(raw, '\n'), 0o600)
}

// writeFileAtomic replaces path via a synced temp file in the same directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".instances-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	// the rename is only durable once the directory entry is synced
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
