package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/itsneelabh/apiflow/core"
)

// SQLiteStore persists descriptors in a single SQLite table so the catalog
// survives restarts without re-ingesting the Swagger document.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the catalog database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty: %w", core.ErrMissingConfiguration)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	// a single connection keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)

	query := `CREATE TABLE IF NOT EXISTS endpoints (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		descriptor TEXT NOT NULL,
		embedding TEXT
	);`
	if _, err := db.Exec(query); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create endpoints table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Upsert inserts or replaces descriptors by ID
func (s *SQLiteStore) Upsert(ctx context.Context, descriptors []EndpointDescriptor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO endpoints (id, descriptor, embedding) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET descriptor = excluded.descriptor, embedding = excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range descriptors {
		doc, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to encode descriptor %s: %w", d.ID, err)
		}
		var embedding []byte
		if len(d.Embedding) > 0 {
			if embedding, err = json.Marshal(d.Embedding); err != nil {
				return fmt.Errorf("failed to encode embedding %s: %w", d.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, d.ID, string(doc), string(embedding)); err != nil {
			return fmt.Errorf("failed to store descriptor %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// GetAll returns every descriptor in insertion order
func (s *SQLiteStore) GetAll(ctx context.Context) ([]EndpointDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT descriptor, embedding FROM endpoints ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EndpointDescriptor
	for rows.Next() {
		var doc string
		var embedding sql.NullString
		if err := rows.Scan(&doc, &embedding); err != nil {
			return nil, err
		}
		var d EndpointDescriptor
		if err := json.Unmarshal([]byte(doc), &d); err != nil {
			return nil, fmt.Errorf("corrupt descriptor row: %w", err)
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &d.Embedding); err != nil {
				return nil, fmt.Errorf("corrupt embedding for %s: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Clear removes every descriptor
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM endpoints`)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
