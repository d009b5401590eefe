// Package progress persists per-chunk outcomes so an interrupted run can be
// resumed without resubmitting chunks that already landed their data.
package progress

import (
	"context"
	"time"
)

// Outcome is the terminal result recorded for a chunk attempt sequence.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// ChunkProgress is one chunk's recorded state within a run.
type ChunkProgress struct {
	RunID         string
	ChunkKey      string
	Attempts      int
	Outcome       Outcome
	LastError     string
	ObjectsCopied int64
	BytesCopied   int64
	UpdatedAt     time.Time
}

// Store records chunk outcomes. Implementations must tolerate concurrent
// writers on distinct chunk keys; the coordinator never writes the same key
// from two workers.
type Store interface {
	// Get returns the recorded progress for one chunk, or nil when the
	// chunk has never been recorded.
	Get(ctx context.Context, runID, chunkKey string) (*ChunkProgress, error)

	// Upsert inserts or replaces the chunk's record.
	Upsert(ctx context.Context, p ChunkProgress) error

	// ListFailed returns every chunk of the run whose outcome is failed.
	ListFailed(ctx context.Context, runID string) ([]ChunkProgress, error)

	Close() error
}
