//go:build mips64 || mips64le || ppc64 || s390x

package storage

import (
	"errors"
	"log/slog"
	"time"
)

// SQLiteStore implements Store using SQLite with WAL mode.
// This is a stub implementation for unsupported platforms.
type SQLiteStore struct{}

// NewSQLiteStore creates a new SQLite store at the given path.
// On unsupported platforms, this returns an error.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	return nil, errors.New("SQLite storage is not supported on this platform, use memory storage instead")
}

// Insert records a completed cycle.
func (s *SQLiteStore) Insert(c *Cycle) error {
	return errors.New("SQLite storage not available")
}

// List retrieves cycles with filtering.
func (s *SQLiteStore) List(opts ListOptions) ([]Cycle, error) {
	return nil, errors.New("SQLite storage not available")
}

// Overview returns aggregate statistics.
func (s *SQLiteStore) Overview(window time.Duration) (*Overview, error) {
	return nil, errors.New("SQLite storage not available")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return nil
}
