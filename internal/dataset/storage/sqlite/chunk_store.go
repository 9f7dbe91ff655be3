// Package sqlite contains the SQLite chunk store: a persistent second-level
// cache of computed chunk aggregates keyed by signal and index-selection hash.
// Keeping it here leaves the dataset layer free of SQL noise and makes the
// backend swappable for testing.
package sqlite

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CSSFrancis/spyde-sub000/internal/dataset"
	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// ChunkStore persists computed chunk aggregates in a SQLite database.
type ChunkStore struct {
	db *sql.DB
}

var _ dataset.ChunkStore = (*ChunkStore)(nil)

// Open opens (creating if needed) the chunk database at path and applies
// pending migrations.
func Open(path string) (*ChunkStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening chunk database: %w", err)
	}
	s := &ChunkStore{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewChunkStore wraps an existing database handle. Migrations are the
// caller's responsibility.
func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// Close closes the underlying database.
func (s *ChunkStore) Close() error { return s.db.Close() }

// GetChunk loads the cached aggregate for (signalID, key). Returns
// dataset.ErrChunkNotFound when absent.
func (s *ChunkStore) GetChunk(signalID string, key uint64) (*ndarray.Array, error) {
	var shapeJSON string
	var blob []byte
	err := s.db.QueryRow(`
		SELECT shape_json, data
		FROM chunk_cache
		WHERE signal_id = ? AND chunk_key = ?`,
		signalID, int64(key),
	).Scan(&shapeJSON, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dataset.ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk %d of signal %s: %w", key, signalID, err)
	}

	var shape []int
	if err := json.Unmarshal([]byte(shapeJSON), &shape); err != nil {
		return nil, fmt.Errorf("decoding chunk shape: %w", err)
	}
	vals := make([]float64, len(blob)/8)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vals); err != nil {
		return nil, fmt.Errorf("decoding chunk data: %w", err)
	}
	return ndarray.FromData(vals, shape...)
}

// PutChunk stores (or replaces) the aggregate for (signalID, key).
func (s *ChunkStore) PutChunk(signalID string, key uint64, a *ndarray.Array) error {
	shapeJSON, err := json.Marshal(a.Shape)
	if err != nil {
		return err
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, a.Data); err != nil {
		return err
	}
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO chunk_cache (
				signal_id, chunk_key, shape_json, data, created_at
			) VALUES (?, ?, ?, ?, ?)`,
			signalID, int64(key), string(shapeJSON), buf.Bytes(), time.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storing chunk %d of signal %s: %w", key, signalID, err)
	}
	return nil
}

// DeleteSignal drops every cached chunk of one signal.
func (s *ChunkStore) DeleteSignal(signalID string) error {
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM chunk_cache WHERE signal_id = ?`, signalID)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting chunks of signal %s: %w", signalID, err)
	}
	return nil
}

// Count returns the number of cached chunks across all signals.
func (s *ChunkStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunk_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cached chunks: %w", err)
	}
	return n, nil
}

const maxBusyRetries = 5

// isSQLiteBusy reports whether err looks like a transient lock conflict.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries fn with backoff while it reports a busy database.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}
