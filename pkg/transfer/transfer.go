// Package transfer copies vendor job output into the destination data lake
// under the canonical data/{country}/{state}/{city}/date={YYYY-MM-DD} layout.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/qolidata/mobsync/pkg/provider"
)

// DefaultFilter matches the vendor's parquet output and skips manifest and
// marker files alongside it.
const DefaultFilter = "**/*.parquet"

// CredentialInvalidator drops cached credentials so the next store call runs
// on a fresh set. The credential broker implements it.
type CredentialInvalidator interface {
	Invalidate()
}

type Config struct {
	// Concurrency is the number of parallel object copies. Default: 4.
	Concurrency int

	// Filter is a doublestar glob applied to keys relative to the job
	// output prefix. Default: DefaultFilter.
	Filter string

	// Excludes are doublestar globs removing keys the Filter matched,
	// e.g. "**/_temporary/**".
	Excludes []string

	// SpoolMemoryLimitBytes controls how large an object we buffer in
	// memory to make the PUT request body seekable for SDK retries.
	// Larger objects are spooled to a temp file.
	SpoolMemoryLimitBytes int64
}

func DefaultConfig() Config {
	return Config{
		Concurrency:           4,
		Filter:                DefaultFilter,
		SpoolMemoryLimitBytes: DefaultSpoolMemoryLimitBytes,
	}
}

// Summary reports per-chunk transfer results as counts to bound log volume.
// ObjectsMatched counts copy items, one per matching object per destination
// location.
type Summary struct {
	ObjectsListed  int64
	ObjectsMatched int64
	ObjectsCopied  int64
	BytesCopied    int64
	Errors         int64
	Duration       time.Duration
}

// Request describes one chunk's copy: every matching object under the vendor
// job output prefix goes into each destination location's partition.
type Request struct {
	// SourcePrefix is the vendor job output folder path.
	SourcePrefix string

	// Locations are the destination partitions for the chunk's AOIs.
	Locations []Location
}

// Executor copies job output from the vendor bucket to the destination
// store. Safe for concurrent use; one executor serves all chunks of a run.
type Executor struct {
	src    provider.Provider
	dst    provider.Provider
	broker CredentialInvalidator
	cfg    Config
}

// New creates an executor. src must support GetObject and dst PutObject;
// broker may be nil when the source runs on non-expiring credentials.
func New(src, dst provider.Provider, broker CredentialInvalidator, cfg Config) (*Executor, error) {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Filter == "" {
		cfg.Filter = def.Filter
	}
	if cfg.SpoolMemoryLimitBytes <= 0 {
		cfg.SpoolMemoryLimitBytes = def.SpoolMemoryLimitBytes
	}
	if !doublestar.ValidatePattern(cfg.Filter) {
		return nil, fmt.Errorf("transfer: invalid filter pattern %q", cfg.Filter)
	}
	for _, p := range cfg.Excludes {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("transfer: invalid exclude pattern %q", p)
		}
	}
	if _, ok := src.(provider.ObjectGetter); !ok {
		return nil, errors.New("transfer: source provider does not support GetObject")
	}
	if _, ok := dst.(provider.ObjectPutter); !ok {
		return nil, errors.New("transfer: destination provider does not support PutObject")
	}

	return &Executor{src: src, dst: dst, broker: broker, cfg: cfg}, nil
}

type copyItem struct {
	srcKey string
	dstKey string
	size   int64
}

// Run copies one chunk's job output. Destination keys are deterministic, so
// re-running an already-copied chunk overwrites the same objects. A non-nil
// error means the chunk must not be marked succeeded; the summary still
// carries whatever was copied.
func (e *Executor) Run(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()

	if len(req.Locations) == 0 {
		return &Summary{Duration: time.Since(start)}, errors.New("transfer: no destination locations")
	}

	prefix := strings.TrimPrefix(req.SourcePrefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var listed, matched, copied, bytesCopied, errCount atomic.Int64
	var firstErr error
	var errMu sync.Mutex

	recordErr := func(err error) {
		errCount.Add(1)
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	workCh := make(chan copyItem, 256)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range workCh {
				if ctx.Err() != nil {
					continue
				}
				if err := e.copyOne(ctx, it); err != nil {
					recordErr(err)
				} else {
					copied.Add(1)
					bytesCopied.Add(it.size)
				}
			}
		}()
	}

	listErr := e.listMatching(ctx, prefix, req.Locations, &listed, func(it copyItem) {
		matched.Add(1)
		workCh <- it
	})
	close(workCh)
	wg.Wait()

	summary := &Summary{
		ObjectsListed:  listed.Load(),
		ObjectsMatched: matched.Load(),
		ObjectsCopied:  copied.Load(),
		BytesCopied:    bytesCopied.Load(),
		Errors:         errCount.Load(),
		Duration:       time.Since(start),
	}

	switch {
	case listErr != nil:
		return summary, fmt.Errorf("transfer: list %s: %w", prefix, listErr)
	case firstErr != nil:
		return summary, fmt.Errorf("transfer: %d of %d objects failed: %w", summary.Errors, summary.ObjectsMatched, firstErr)
	case summary.ObjectsMatched == 0:
		// The vendor reported SUCCESS but its folder holds nothing we
		// recognize. Treat as a failed copy so the chunk is retried
		// instead of silently recorded as done.
		return summary, fmt.Errorf("transfer: no objects matching %q under %s", e.cfg.Filter, prefix)
	}

	return summary, nil
}

// listMatching enumerates the job output prefix and emits one copy item per
// matching object per destination location.
func (e *Executor) listMatching(ctx context.Context, prefix string, locations []Location, listed *atomic.Int64, emit func(copyItem)) error {
	var token string
	for {
		res, err := e.listPage(ctx, prefix, token)
		if err != nil {
			return err
		}
		for _, obj := range res.Objects {
			listed.Add(1)
			rel := strings.TrimPrefix(obj.Key, prefix)
			if !e.matches(rel) {
				continue
			}
			for _, loc := range locations {
				emit(copyItem{srcKey: obj.Key, dstKey: destKey(loc, rel), size: obj.Size})
			}
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			return nil
		}
		token = res.ContinuationToken
	}
}

// matches applies the include filter and the exclude globs to a key relative
// to the job output prefix.
func (e *Executor) matches(rel string) bool {
	if ok, _ := doublestar.Match(e.cfg.Filter, rel); !ok {
		return false
	}
	for _, p := range e.cfg.Excludes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}

func (e *Executor) listPage(ctx context.Context, prefix, token string) (*provider.ListResult, error) {
	res, err := e.src.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token})
	if err != nil && provider.IsAuthError(err) && e.broker != nil {
		e.broker.Invalidate()
		res, err = e.src.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token})
	}
	return res, err
}

// copyOne streams one object and verifies the written copy. An authorization
// failure invalidates the brokered credentials and retries the object once.
func (e *Executor) copyOne(ctx context.Context, it copyItem) error {
	err := e.copyAndVerify(ctx, it)
	if err != nil && provider.IsAuthError(err) && e.broker != nil {
		e.broker.Invalidate()
		err = e.copyAndVerify(ctx, it)
	}
	return err
}

func (e *Executor) copyAndVerify(ctx context.Context, it copyItem) error {
	getter := e.src.(provider.ObjectGetter)
	putter := e.dst.(provider.ObjectPutter)

	body, size, err := getter.GetObject(ctx, it.srcKey)
	if err != nil {
		return err
	}

	spooled, release, err := spoolBody(body, size, e.cfg.SpoolMemoryLimitBytes)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	if err := putter.PutObject(ctx, it.dstKey, spooled, size); err != nil {
		return err
	}

	// Order of writes does not imply completeness; confirm the object
	// actually landed with the right size before counting it.
	meta, err := e.dst.Head(ctx, it.dstKey)
	if err != nil {
		if provider.IsNotFound(err) {
			return &VerifyError{Key: it.dstKey, Expected: size, Missing: true}
		}
		return err
	}
	if size >= 0 && meta.Size != size {
		return &VerifyError{Key: it.dstKey, Expected: size, Got: meta.Size}
	}
	return nil
}
