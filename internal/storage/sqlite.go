//go:build !mips64 && !mips64le && !ppc64 && !s390x

package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    trigger_kind TEXT NOT NULL,
    ts_start INTEGER NOT NULL,
    ts_end INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    succeeded INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cycle_results (
    cycle_id TEXT NOT NULL,
    category TEXT NOT NULL,
    status TEXT NOT NULL,
    duration_ms INTEGER DEFAULT 0,
    response_bytes INTEGER DEFAULT 0,
    error TEXT,
    PRIMARY KEY (cycle_id, category)
);

CREATE INDEX IF NOT EXISTS idx_cycles_ts_start ON cycles(ts_start);
CREATE INDEX IF NOT EXISTS idx_cycles_trigger_ts ON cycles(trigger_kind, ts_start);
`

// SQLiteStore implements Store using SQLite with WAL mode.
type SQLiteStore struct {
	db      *sql.DB
	maxRows int
	pruneMu sync.Mutex
	logger  *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// It enables WAL mode for better concurrent performance.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteStore{
		db:      db,
		maxRows: maxRows,
		logger:  logger,
	}, nil
}

// Insert records a completed cycle and its per-category results.
func (s *SQLiteStore) Insert(c *Cycle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert cycle: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO cycles (id, trigger_kind, ts_start, ts_end, outcome, succeeded, failed, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Trigger, c.TSStart, c.TSEnd, string(c.Outcome), c.Succeeded, c.Failed, c.DurationMs)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for _, r := range c.Results {
		_, err = tx.Exec(`
			INSERT INTO cycle_results (cycle_id, category, status, duration_ms, response_bytes, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.ID, r.Category, string(r.Status), r.DurationMs, r.ResponseBytes, r.Error)
		if err != nil {
			return fmt.Errorf("insert cycle result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}

	// Trigger pruning check (best effort, non-blocking)
	go s.maybePrune()

	return nil
}

// List retrieves cycles with their results, newest first.
func (s *SQLiteStore) List(opts ListOptions) ([]Cycle, error) {
	query := `SELECT id, trigger_kind, ts_start, ts_end, outcome, succeeded, failed, duration_ms FROM cycles`
	var conds []string
	var args []any

	if opts.Trigger != "" {
		conds = append(conds, "trigger_kind = ?")
		args = append(args, opts.Trigger)
	}
	if opts.Window > 0 {
		conds = append(conds, "ts_start >= ?")
		args = append(args, time.Now().UnixMilli()-opts.Window.Milliseconds())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts_start DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	var ids []string
	for rows.Next() {
		var c Cycle
		var outcome string
		if err := rows.Scan(&c.ID, &c.Trigger, &c.TSStart, &c.TSEnd, &outcome, &c.Succeeded, &c.Failed, &c.DurationMs); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.Outcome = Outcome(outcome)
		cycles = append(cycles, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	if len(cycles) == 0 {
		return nil, nil
	}

	results, err := s.loadResults(ids)
	if err != nil {
		return nil, err
	}
	for i := range cycles {
		cycles[i].Results = results[cycles[i].ID]
	}
	return cycles, nil
}

// loadResults fetches the per-category results for a set of cycle IDs.
func (s *SQLiteStore) loadResults(ids []string) (map[string][]QueryResult, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(`
		SELECT cycle_id, category, status, duration_ms, response_bytes, error
		FROM cycle_results WHERE cycle_id IN (`+placeholders+`)
		ORDER BY cycle_id, category
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list cycle results: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]QueryResult, len(ids))
	for rows.Next() {
		var cycleID, status string
		var r QueryResult
		var errText sql.NullString
		if err := rows.Scan(&cycleID, &r.Category, &status, &r.DurationMs, &r.ResponseBytes, &errText); err != nil {
			return nil, fmt.Errorf("scan cycle result: %w", err)
		}
		r.Status = QueryStatus(status)
		r.Error = errText.String
		out[cycleID] = append(out[cycleID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cycle results: %w", err)
	}
	return out, nil
}

// Overview returns aggregate statistics for a time window.
func (s *SQLiteStore) Overview(window time.Duration) (*Overview, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	rows, err := s.db.Query(`SELECT outcome, duration_ms FROM cycles WHERE ts_start >= ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("overview cycles: %w", err)
	}
	defer rows.Close()

	var o Overview
	var durations []int
	for rows.Next() {
		var outcome string
		var durationMs int64
		if err := rows.Scan(&outcome, &durationMs); err != nil {
			return nil, fmt.Errorf("scan overview: %w", err)
		}
		o.TotalCycles++
		switch Outcome(outcome) {
		case OutcomeSuccess:
			o.SuccessCount++
		case OutcomeFailure:
			o.FailureCount++
		}
		if durationMs > 0 {
			durations = append(durations, int(durationMs))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("overview cycles: %w", err)
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM cycle_results r JOIN cycles c ON c.id = r.cycle_id
		WHERE c.ts_start >= ?
	`, string(QueryPlaceholder), cutoff).Scan(&o.QueriesTotal, &o.Placeholders)
	if err != nil {
		return nil, fmt.Errorf("overview results: %w", err)
	}

	if o.TotalCycles > 0 {
		o.SuccessRate = float64(o.SuccessCount) / float64(o.TotalCycles)
	}
	if len(durations) > 0 {
		sort.Ints(durations)
		sum := 0
		for _, d := range durations {
			sum += d
		}
		o.AvgDurationMs = sum / len(durations)

		p95Idx := int(float64(len(durations)) * 0.95)
		if p95Idx >= len(durations) {
			p95Idx = len(durations) - 1
		}
		o.P95DurationMs = durations[p95Idx]
	}

	return &o, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// maybePrune checks if pruning is needed and runs it.
func (s *SQLiteStore) maybePrune() {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&count); err != nil {
		s.logger.Error("prune count query failed", "err", err)
		return
	}

	if count <= s.maxRows {
		return
	}

	// Delete oldest cycles in batches
	toDelete := count - s.maxRows
	const batchSize = 500
	if toDelete > batchSize {
		toDelete = batchSize
	}

	_, err := s.db.Exec(`
		DELETE FROM cycle_results WHERE cycle_id IN (
			SELECT id FROM cycles ORDER BY ts_start ASC LIMIT ?
		)
	`, toDelete)
	if err != nil {
		s.logger.Error("prune results failed", "err", err)
		return
	}
	_, err = s.db.Exec(`
		DELETE FROM cycles WHERE id IN (
			SELECT id FROM cycles ORDER BY ts_start ASC LIMIT ?
		)
	`, toDelete)
	if err != nil {
		s.logger.Error("prune failed", "err", err)
	} else {
		s.logger.Debug("pruned old cycles", "deleted", toDelete)
	}
}
