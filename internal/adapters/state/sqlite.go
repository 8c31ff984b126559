// Package state persists service state: layers and jobs in SQLite,
// display preferences in a JSON document.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/terralab/strata/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS layers (
	id       TEXT PRIMARY KEY,
	document TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
	id       TEXT PRIMARY KEY,
	document TEXT NOT NULL
);
`

// SQLiteStore implements the LayerStore port. Layers and jobs are
// stored as JSON documents keyed by ID: the registry and job store keep
// the authoritative in-memory view, so the database never needs to
// query inside the records.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the state database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	// A single writer keeps SQLite happy under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "migrate", Key: path, Err: err}
	}

	return &SQLiteStore{db: db}, nil
}

// SaveLayer inserts or replaces a layer snapshot.
func (s *SQLiteStore) SaveLayer(ctx context.Context, layer *domain.Layer) error {
	return s.save(ctx, "layers", layer.ID, layer)
}

// DeleteLayer removes a layer.
func (s *SQLiteStore) DeleteLayer(ctx context.Context, layerID string) error {
	return s.delete(ctx, "layers", layerID)
}

// LoadLayers returns all persisted layers.
func (s *SQLiteStore) LoadLayers(ctx context.Context) ([]*domain.Layer, error) {
	var layers []*domain.Layer
	err := s.load(ctx, "layers", func(doc []byte) error {
		var layer domain.Layer
		if err := json.Unmarshal(doc, &layer); err != nil {
			return err
		}
		layers = append(layers, &layer)
		return nil
	})
	return layers, err
}

// SaveJob inserts or replaces a job snapshot.
func (s *SQLiteStore) SaveJob(ctx context.Context, job *domain.Job) error {
	return s.save(ctx, "jobs", job.ID, job)
}

// DeleteJob removes a job.
func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	return s.delete(ctx, "jobs", jobID)
}

// LoadJobs returns all persisted jobs.
func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := s.load(ctx, "jobs", func(doc []byte) error {
		var job domain.Job
		if err := json.Unmarshal(doc, &job); err != nil {
			return err
		}
		jobs = append(jobs, &job)
		return nil
	})
	return jobs, err
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) save(ctx context.Context, table, id string, record any) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", table, id, err)
	}

	query := fmt.Sprintf("INSERT INTO %s (id, document) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET document = excluded.document", table)
	if _, err := s.db.ExecContext(ctx, query, id, string(doc)); err != nil {
		return &domain.StorageError{Operation: "save", Key: id, Err: err}
	}
	return nil
}

func (s *SQLiteStore) delete(ctx context.Context, table, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return &domain.StorageError{Operation: "delete", Key: id, Err: err}
	}
	return nil
}

func (s *SQLiteStore) load(ctx context.Context, table string, decode func([]byte) error) error {
	query := fmt.Sprintf("SELECT document FROM %s", table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return &domain.StorageError{Operation: "load", Key: table, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return &domain.StorageError{Operation: "load", Key: table, Err: err}
		}
		if err := decode([]byte(doc)); err != nil {
			return fmt.Errorf("decoding %s record: %w", table, err)
		}
	}
	return rows.Err()
}
