package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qolidata/mobsync/pkg/provider"
	"github.com/qolidata/mobsync/pkg/provider/file"
)

func newFileProvider(t *testing.T) (*file.Provider, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := file.New(file.Config{BaseDir: dir})
	require.NoError(t, err)
	return p, dir
}

func seedFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func listKeys(t *testing.T, dir string) []string {
	t.Helper()
	var keys []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	return keys
}

func TestRunCopiesMatchingObjects(t *testing.T) {
	src, srcDir := newFileProvider(t)
	dst, dstDir := newFileProvider(t)

	seedFile(t, srcDir, "exports/job-1/date=2026-03-01/part-0000.parquet", "rows-a")
	seedFile(t, srcDir, "exports/job-1/2026-03-02/part-0000.parquet", "rows-b")
	seedFile(t, srcDir, "exports/job-1/date=2026-03-01/_SUCCESS", "")

	e, err := New(src, dst, nil, Config{})
	require.NoError(t, err)

	sum, err := e.Run(context.Background(), Request{
		SourcePrefix: "exports/job-1",
		Locations:    []Location{{Country: "ca", State: "on", City: "toronto"}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 3, sum.ObjectsListed)
	assert.EqualValues(t, 2, sum.ObjectsMatched)
	assert.EqualValues(t, 2, sum.ObjectsCopied)
	assert.EqualValues(t, 12, sum.BytesCopied)
	assert.EqualValues(t, 0, sum.Errors)

	assert.ElementsMatch(t, []string{
		"data/ca/on/toronto/date=2026-03-01/part-0000.parquet",
		"data/ca/on/toronto/date=2026-03-02/part-0000.parquet",
	}, listKeys(t, dstDir))
}

func TestRunAppliesExcludeGlobs(t *testing.T) {
	src, srcDir := newFileProvider(t)
	dst, dstDir := newFileProvider(t)

	seedFile(t, srcDir, "exports/job-9/date=2026-03-01/part-0000.parquet", "rows-a")
	seedFile(t, srcDir, "exports/job-9/date=2026-03-01/_temporary/part-0001.parquet", "rows-b")

	e, err := New(src, dst, nil, Config{Excludes: []string{"**/_temporary/**"}})
	require.NoError(t, err)

	sum, err := e.Run(context.Background(), Request{
		SourcePrefix: "exports/job-9",
		Locations:    []Location{{Country: "us", City: "austin"}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 2, sum.ObjectsListed)
	assert.EqualValues(t, 1, sum.ObjectsMatched)
	assert.Equal(t, []string{
		"data/us/austin/date=2026-03-01/part-0000.parquet",
	}, listKeys(t, dstDir))
}

func TestNewRejectsInvalidExclude(t *testing.T) {
	src, _ := newFileProvider(t)
	dst, _ := newFileProvider(t)

	_, err := New(src, dst, nil, Config{Excludes: []string{"[bad"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclude")
}

func TestRunFansOutToEveryLocation(t *testing.T) {
	src, srcDir := newFileProvider(t)
	dst, dstDir := newFileProvider(t)

	seedFile(t, srcDir, "exports/job-2/date=2026-03-01/part.parquet", "rows")

	e, err := New(src, dst, nil, Config{})
	require.NoError(t, err)

	sum, err := e.Run(context.Background(), Request{
		SourcePrefix: "exports/job-2",
		Locations: []Location{
			{Country: "ca", State: "on", City: "toronto"},
			{Country: "au", City: "logan_city"},
		},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 2, sum.ObjectsCopied)
	assert.ElementsMatch(t, []string{
		"data/ca/on/toronto/date=2026-03-01/part.parquet",
		"data/au/logan_city/date=2026-03-01/part.parquet",
	}, listKeys(t, dstDir))
}

func TestRunIsIdempotent(t *testing.T) {
	src, srcDir := newFileProvider(t)
	dst, dstDir := newFileProvider(t)

	seedFile(t, srcDir, "exports/job-3/date=2026-03-01/part.parquet", "rows")

	e, err := New(src, dst, nil, Config{})
	require.NoError(t, err)

	req := Request{
		SourcePrefix: "exports/job-3",
		Locations:    []Location{{Country: "ca", State: "on", City: "toronto"}},
	}

	_, err = e.Run(context.Background(), req)
	require.NoError(t, err)
	first := listKeys(t, dstDir)

	_, err = e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.ElementsMatch(t, first, listKeys(t, dstDir))
}

func TestRunFailsWhenNothingMatches(t *testing.T) {
	src, srcDir := newFileProvider(t)
	dst, _ := newFileProvider(t)

	seedFile(t, srcDir, "exports/job-4/date=2026-03-01/_SUCCESS", "")

	e, err := New(src, dst, nil, Config{})
	require.NoError(t, err)

	sum, err := e.Run(context.Background(), Request{
		SourcePrefix: "exports/job-4",
		Locations:    []Location{{Country: "ca", State: "on", City: "toronto"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no objects matching")
	assert.EqualValues(t, 0, sum.ObjectsCopied)
}

func TestNewRejectsInvalidFilter(t *testing.T) {
	src, _ := newFileProvider(t)
	dst, _ := newFileProvider(t)

	_, err := New(src, dst, nil, Config{Filter: "[bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

// authFlakySource wraps a provider and fails the first GetObject call per
// key with an access denial, succeeding on the retry after refresh.
type authFlakySource struct {
	*file.Provider
	failed atomic.Bool
}

func (s *authFlakySource) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if s.failed.CompareAndSwap(false, true) {
		return nil, 0, &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderS3, Key: key, Err: provider.ErrAccessDenied}
	}
	return s.Provider.GetObject(ctx, key)
}

type countingBroker struct {
	invalidations atomic.Int64
}

func (b *countingBroker) Invalidate() { b.invalidations.Add(1) }

func TestRunRetriesOnceAfterAuthFailure(t *testing.T) {
	inner, srcDir := newFileProvider(t)
	dst, dstDir := newFileProvider(t)

	seedFile(t, srcDir, "exports/job-5/date=2026-03-01/part.parquet", "rows")

	src := &authFlakySource{Provider: inner}
	broker := &countingBroker{}

	e, err := New(src, dst, broker, Config{Concurrency: 1})
	require.NoError(t, err)

	sum, err := e.Run(context.Background(), Request{
		SourcePrefix: "exports/job-5",
		Locations:    []Location{{Country: "ca", State: "on", City: "toronto"}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, sum.ObjectsCopied)
	assert.EqualValues(t, 1, broker.invalidations.Load())
	assert.Len(t, listKeys(t, dstDir), 1)
}

// truncatingDest drops the final byte of every put so post-copy
// verification sees a short object.
type truncatingDest struct {
	*file.Provider
}

func (d *truncatingDest) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	if contentLength > 0 {
		return d.Provider.PutObject(ctx, key, io.LimitReader(body, contentLength-1), contentLength-1)
	}
	return d.Provider.PutObject(ctx, key, body, contentLength)
}

func TestRunDetectsShortCopies(t *testing.T) {
	src, srcDir := newFileProvider(t)
	inner, _ := newFileProvider(t)

	seedFile(t, srcDir, "exports/job-6/date=2026-03-01/part.parquet", "rows")

	e, err := New(src, &truncatingDest{Provider: inner}, nil, Config{Concurrency: 1})
	require.NoError(t, err)

	sum, err := e.Run(context.Background(), Request{
		SourcePrefix: "exports/job-6",
		Locations:    []Location{{Country: "ca", State: "on", City: "toronto"}},
	})
	require.Error(t, err)
	assert.True(t, IsVerifyError(err))
	assert.EqualValues(t, 0, sum.ObjectsCopied)
	assert.EqualValues(t, 1, sum.Errors)
}
