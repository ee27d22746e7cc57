package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a sqlite-backed implementation of DocumentStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dataSourceName and
// ensures the documents table exists.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, err
	}

	const schema = `CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, id string) (*Snapshot, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO documents (id, payload, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		id, []byte(emptyPayload), DefaultTitle, now, now)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		logrus.WithField("documentId", id).Debug("created document")
	}

	var (
		payload []byte
		title   string
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT payload, title FROM documents WHERE id = ?", id).Scan(&payload, &title)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Payload: payload, Title: title}, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, payload json.RawMessage, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET payload = ?, title = ?, updated_at = ? WHERE id = ?",
		[]byte(payload), title, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %q not found", id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, created_at, updated_at FROM documents ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DocumentInfo
	for rows.Next() {
		var (
			info               DocumentInfo
			createdAt, updated int64
		)
		if err := rows.Scan(&info.ID, &info.Title, &createdAt, &updated); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(createdAt, 0)
		info.UpdatedAt = time.Unix(updated, 0)
		result = append(result, info)
	}
	return result, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
