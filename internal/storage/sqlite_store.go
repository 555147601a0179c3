package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devghori1264/aerophoenix/vkd/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one row per instance in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		container TEXT NOT NULL DEFAULT ''
	);`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadAll(ctx context.Context) (map[string]models.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type, token, container FROM instances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.StoredRecord)
	for rows.Next() {
		var (
			id, typ string
			rec     models.StoredRecord
		)
		if err := rows.Scan(&id, &rec.Name, &typ, &rec.Token, &rec.Container); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(typ), &rec.Type); err != nil {
			return nil, fmt.Errorf("decode type of %s: %w", id, err)
		}
		out[id] = rec
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, id string, rec models.StoredRecord) error {
	typ, err := json.Marshal(rec.Type)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO instances (id, name, type, token, container) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		type = excluded.type,
		token = excluded.token,
		container = excluded.container`,
		id, rec.Name, string(typ), rec.Token, rec.Container)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
