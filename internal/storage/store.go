// Package storage provides persistence for refresh cycle telemetry.
// It stores outcomes and timings only - no panel or chat content.
package storage

import (
	"time"
)

// Outcome is the final outcome of a refresh cycle.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// QueryStatus is the per-category result inside a cycle.
type QueryStatus string

const (
	QuerySuccess     QueryStatus = "success"
	QueryPlaceholder QueryStatus = "placeholder"
)

// QueryResult records how one category query resolved.
// No reply content is stored - only shape and timing.
type QueryResult struct {
	Category      string      `json:"category"`
	Status        QueryStatus `json:"status"`
	DurationMs    int64       `json:"duration_ms"`
	ResponseBytes int64       `json:"response_bytes"`
	Error         string      `json:"error,omitempty"`
}

// Cycle records one refresh cycle.
type Cycle struct {
	ID         string        `json:"id"`
	Trigger    string        `json:"trigger"`  // scheduled|manual|startup
	TSStart    int64         `json:"ts_start"` // unix ms
	TSEnd      int64         `json:"ts_end"`
	Outcome    Outcome       `json:"outcome"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	DurationMs int64         `json:"duration_ms"`
	Results    []QueryResult `json:"results,omitempty"`
}

// ListOptions filters for listing cycles.
type ListOptions struct {
	Limit   int
	Trigger string
	Window  time.Duration // only cycles within this window
}

// Overview contains summary statistics for a time window.
type Overview struct {
	TotalCycles   int     `json:"total_cycles"`
	SuccessCount  int     `json:"success_count"`
	FailureCount  int     `json:"failure_count"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs int     `json:"avg_duration_ms"`
	P95DurationMs int     `json:"p95_duration_ms"`
	QueriesTotal  int     `json:"queries_total"`
	Placeholders  int     `json:"placeholders"`
}

// Store is the interface for cycle telemetry storage.
type Store interface {
	// Insert records a completed cycle with its per-category results.
	Insert(c *Cycle) error

	// List retrieves cycles, newest first.
	List(opts ListOptions) ([]Cycle, error)

	// Overview returns aggregate statistics for a time window.
	Overview(window time.Duration) (*Overview, error)

	// Close releases resources.
	Close() error
}

// NopStore discards everything. Used when STORAGE=off.
type NopStore struct{}

// NewNopStore creates a store that keeps nothing.
func NewNopStore() *NopStore { return &NopStore{} }

func (*NopStore) Insert(c *Cycle) error { return nil }

func (*NopStore) List(opts ListOptions) ([]Cycle, error) { return nil, nil }

func (*NopStore) Overview(window time.Duration) (*Overview, error) { return &Overview{}, nil }

func (*NopStore) Close() error { return nil }
