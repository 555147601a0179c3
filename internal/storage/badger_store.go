package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/devghori1264/aerophoenix/vkd/internal/models"
	badger "github.com/dgraph-io/badger/v4"
)

var instancePrefix = []byte("instance:")

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil                         // badger logs are noise next to ours
	opts = opts.WithValueLogFileSize(1 << 20) // records are tiny
	opts = opts.WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func instanceKey(id string) []byte {
	return append(append([]byte{}, instancePrefix...), id...)
}

func (s *BadgerStore) LoadAll(ctx context.Context) (map[string]models.StoredRecord, error) {
	out := make(map[string]models.StoredRecord)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(instancePrefix); it.ValidForPrefix(instancePrefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(instancePrefix):])
			var rec models.StoredRecord
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			out[id] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Upsert(ctx context.Context, id string, rec models.StoredRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(instanceKey(id), data)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, id string) (bool, error) {
	existed := true
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(instanceKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				existed = false
				return nil
			}
			return err
		}
		return txn.Delete(instanceKey(id))
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}
