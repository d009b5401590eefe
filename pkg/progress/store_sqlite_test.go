package progress

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "progress.db")
	s, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s, _ := openTestStore(t)

	p, err := s.Get(context.Background(), "run-1", "b000-w000-pings-full")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestUpsertRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	rec := ChunkProgress{
		RunID:         "run-1",
		ChunkKey:      "b000-w000-movement-job-pings-full",
		Attempts:      1,
		Outcome:       OutcomeSucceeded,
		ObjectsCopied: 42,
		BytesCopied:   1 << 20,
	}
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Get(ctx, rec.RunID, rec.ChunkKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ChunkKey, got.ChunkKey)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, OutcomeSucceeded, got.Outcome)
	assert.EqualValues(t, 42, got.ObjectsCopied)
	assert.EqualValues(t, 1<<20, got.BytesCopied)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestUpsertReplacesExisting(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	rec := ChunkProgress{
		RunID:     "run-1",
		ChunkKey:  "b001-w000-movement-job-pings-full",
		Attempts:  1,
		Outcome:   OutcomeFailed,
		LastError: "vendor job j-1 failed",
	}
	require.NoError(t, s.Upsert(ctx, rec))

	rec.Attempts = 2
	rec.Outcome = OutcomeSucceeded
	rec.LastError = ""
	rec.ObjectsCopied = 7
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Get(ctx, rec.RunID, rec.ChunkKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, OutcomeSucceeded, got.Outcome)
	assert.Empty(t, got.LastError)
	assert.EqualValues(t, 7, got.ObjectsCopied)
}

func TestUpsertRequiresKeys(t *testing.T) {
	s, _ := openTestStore(t)

	err := s.Upsert(context.Background(), ChunkProgress{RunID: "run-1"})
	if err == nil {
		t.Fatalf("expected error for missing chunk key")
	}
}

func TestListFailed(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, ChunkProgress{RunID: "run-1", ChunkKey: "b000-w000-pings-full", Attempts: 3, Outcome: OutcomeFailed, LastError: "poll timeout"}))
	require.NoError(t, s.Upsert(ctx, ChunkProgress{RunID: "run-1", ChunkKey: "b000-w001-pings-full", Attempts: 1, Outcome: OutcomeSucceeded}))
	require.NoError(t, s.Upsert(ctx, ChunkProgress{RunID: "run-1", ChunkKey: "b001-w000-pings-full", Attempts: 3, Outcome: OutcomeFailed, LastError: "access denied"}))
	require.NoError(t, s.Upsert(ctx, ChunkProgress{RunID: "run-2", ChunkKey: "b000-w000-pings-full", Attempts: 3, Outcome: OutcomeFailed}))

	failed, err := s.ListFailed(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "b000-w000-pings-full", failed[0].ChunkKey)
	assert.Equal(t, "b001-w000-pings-full", failed[1].ChunkKey)
	assert.Equal(t, "poll timeout", failed[0].LastError)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.db")

	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, ChunkProgress{
		RunID:     "run-1",
		ChunkKey:  "b000-w000-pings-full",
		Attempts:  1,
		Outcome:   OutcomeSucceeded,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(ctx, "run-1", "b000-w000-pings-full")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, OutcomeSucceeded, got.Outcome)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), got.UpdatedAt.UTC())
}

func TestConcurrentWritersDistinctKeys(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := s.Upsert(ctx, ChunkProgress{
				RunID:    "run-1",
				ChunkKey: string(rune('a'+n)) + "-chunk",
				Attempts: 1,
				Outcome:  OutcomeSucceeded,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		got, err := s.Get(ctx, "run-1", string(rune('a'+i))+"-chunk")
		require.NoError(t, err)
		require.NotNil(t, got)
	}
}
