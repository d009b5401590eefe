// Package runner coordinates a full sync run: it fans chunks out to a
// bounded worker pool, drives each chunk through submit, poll, and transfer,
// records outcomes, and aggregates the run result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qolidata/mobsync/pkg/geo"
	"github.com/qolidata/mobsync/pkg/plan"
	"github.com/qolidata/mobsync/pkg/progress"
	"github.com/qolidata/mobsync/pkg/transfer"
	"github.com/qolidata/mobsync/pkg/vendorapi"
)

// JobClient drives one vendor job from submission to a terminal state.
// *vendorapi.Client implements it.
type JobClient interface {
	Submit(ctx context.Context, req vendorapi.SubmitRequest) (*vendorapi.Job, error)
	WaitForCompletion(ctx context.Context, jobID string, cfg vendorapi.PollConfig, clock vendorapi.Clock) (*vendorapi.Job, error)
}

// Transferer copies one chunk's job output into the named destination
// bucket. The command layer backs it with one transfer executor per distinct
// destination.
type Transferer interface {
	Transfer(ctx context.Context, destBucket string, req transfer.Request) (*transfer.Summary, error)
}

// Outcome is the aggregate result of a run.
type Outcome string

const (
	OutcomeSuccess        Outcome = "SUCCESS"
	OutcomePartialFailure Outcome = "PARTIAL_FAILURE"
)

// FailedChunk identifies one permanently failed chunk and why it failed.
type FailedChunk struct {
	Key      string
	Attempts int
	Reason   string
}

// RunSummary aggregates a finished run.
type RunSummary struct {
	RunID           string
	Outcome         Outcome
	ChunksTotal     int
	ChunksSucceeded int
	ChunksFailed    int
	ChunksSkipped   int
	Failed          []FailedChunk
	ObjectsCopied   int64
	BytesCopied     int64
	Duration        time.Duration
}

type Config struct {
	// RunID addresses this run in the progress store so an interrupted
	// run can be resumed. Default: a fresh UUID (no resume).
	RunID string

	// Workers is the chunk concurrency. Default: 4.
	Workers int

	// MaxAttempts is the per-chunk attempt budget covering submit, poll,
	// and transfer. Default: 3.
	MaxAttempts int

	// RetryBackoff is the delay before the second attempt; it doubles
	// for each further attempt. Default: 30s.
	RetryBackoff time.Duration

	// Poll bounds the job polling loop.
	Poll vendorapi.PollConfig
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		MaxAttempts:  3,
		RetryBackoff: 30 * time.Second,
		Poll:         vendorapi.DefaultPollConfig(),
	}
}

// Runner executes one run over a fixed chunk set.
type Runner struct {
	chunks []plan.Chunk
	client JobClient
	xfer   Transferer
	store  progress.Store
	clock  vendorapi.Clock
	logger *zap.Logger
	cfg    Config
}

// New creates a runner. store may be nil for one-shot runs with no resume;
// clock and logger default to the real clock and a no-op logger.
func New(chunks []plan.Chunk, client JobClient, xfer Transferer, store progress.Store, clock vendorapi.Clock, logger *zap.Logger, cfg Config) (*Runner, error) {
	if client == nil {
		return nil, errors.New("runner: job client is required")
	}
	if xfer == nil {
		return nil, errors.New("runner: transferer is required")
	}
	def := DefaultConfig()
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if clock == nil {
		clock = vendorapi.RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		chunks: chunks,
		client: client,
		xfer:   xfer,
		store:  store,
		clock:  clock,
		logger: logger,
		cfg:    cfg,
	}, nil
}

// Run processes every chunk and returns the aggregated summary. The summary
// is non-nil even on error. Chunks permanently failing do not abort the run;
// the outcome is PARTIAL_FAILURE and their keys are listed in the summary.
// The exception is a configuration error, which fails every remaining chunk
// the same way: dispatch of not-yet-started chunks stops, while in-flight
// chunks finish and record their outcome.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	start := time.Now()

	summary := &RunSummary{
		RunID:       r.cfg.RunID,
		ChunksTotal: len(r.chunks),
	}

	pending, err := r.filterCompleted(ctx, summary)
	if err != nil {
		summary.Outcome = OutcomePartialFailure
		summary.Duration = time.Since(start)
		return summary, err
	}

	workCh := make(chan plan.Chunk)
	stop := make(chan struct{})
	var stopOnce sync.Once
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range workCh {
				res := r.processChunk(ctx, chunk)

				mu.Lock()
				if res.failed == nil {
					summary.ChunksSucceeded++
					summary.ObjectsCopied += res.objects
					summary.BytesCopied += res.bytes
				} else {
					summary.ChunksFailed++
					summary.Failed = append(summary.Failed, *res.failed)
				}
				mu.Unlock()

				if res.fatal {
					// A configuration error will fail every remaining
					// chunk the same way. Stop dispatch; other workers
					// finish what they already hold.
					stopOnce.Do(func() { close(stop) })
					return
				}
			}
		}()
	}

dispatch:
	for _, chunk := range pending {
		select {
		case workCh <- chunk:
		case <-ctx.Done():
			// In-flight chunks finish; the rest are never started and
			// stay unrecorded so a resume picks them up.
			break dispatch
		case <-stop:
			break dispatch
		}
	}
	close(workCh)
	wg.Wait()

	summary.Duration = time.Since(start)
	if summary.ChunksFailed == 0 && ctx.Err() == nil {
		summary.Outcome = OutcomeSuccess
	} else {
		summary.Outcome = OutcomePartialFailure
	}

	return summary, ctx.Err()
}

// filterCompleted drops chunks recorded as succeeded in a previous run with
// the same run id.
func (r *Runner) filterCompleted(ctx context.Context, summary *RunSummary) ([]plan.Chunk, error) {
	if r.store == nil {
		return r.chunks, nil
	}

	pending := make([]plan.Chunk, 0, len(r.chunks))
	for _, chunk := range r.chunks {
		rec, err := r.store.Get(ctx, r.cfg.RunID, chunk.Key())
		if err != nil {
			return nil, fmt.Errorf("runner: read progress for %s: %w", chunk.Key(), err)
		}
		if rec != nil && rec.Outcome == progress.OutcomeSucceeded {
			summary.ChunksSkipped++
			r.logger.Info("skipping completed chunk",
				zap.String("run_id", r.cfg.RunID),
				zap.String("chunk", chunk.Key()),
			)
			continue
		}
		pending = append(pending, chunk)
	}
	return pending, nil
}

type chunkResult struct {
	failed  *FailedChunk
	fatal   bool
	objects int64
	bytes   int64
}

// processChunk drives one chunk through its attempt budget.
func (r *Runner) processChunk(ctx context.Context, chunk plan.Chunk) chunkResult {
	key := chunk.Key()
	log := r.logger.With(zap.String("run_id", r.cfg.RunID), zap.String("chunk", key))

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		if attempt > 1 {
			backoff := r.cfg.RetryBackoff << (attempt - 2)
			log.Info("retrying chunk", zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			if err := r.clock.Sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		sum, err := r.attemptChunk(ctx, chunk, log)
		if err == nil {
			r.record(ctx, chunk, attempts, progress.OutcomeSucceeded, "", sum)
			log.Info("chunk succeeded",
				zap.Int("attempt", attempt),
				zap.Int64("objects", sum.ObjectsCopied),
				zap.Int64("bytes", sum.BytesCopied),
			)
			return chunkResult{objects: sum.ObjectsCopied, bytes: sum.BytesCopied}
		}

		lastErr = err
		if plan.IsConfigError(err) || ctx.Err() != nil {
			// Deterministic failures do not improve on retry.
			break
		}
		log.Warn("chunk attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	reason := "unknown"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	r.record(ctx, chunk, attempts, progress.OutcomeFailed, reason, nil)
	log.Error("chunk permanently failed", zap.Int("attempts", attempts), zap.Error(lastErr))

	return chunkResult{
		failed: &FailedChunk{Key: key, Attempts: attempts, Reason: reason},
		fatal:  plan.IsConfigError(lastErr),
	}
}

// attemptChunk runs one full submit/poll/transfer cycle.
func (r *Runner) attemptChunk(ctx context.Context, chunk plan.Chunk, log *zap.Logger) (*transfer.Summary, error) {
	geoms, err := geo.Encode(chunk.AOIs)
	if err != nil {
		// Encoding failures are input problems; retrying cannot fix them.
		return nil, &plan.ConfigError{Err: err}
	}

	job, err := r.client.Submit(ctx, vendorapi.SubmitRequest{
		Endpoint:   chunk.Spec.Endpoint,
		Schema:     chunk.Spec.Schema,
		Window:     chunk.Window,
		Geometries: geoms,
	})
	if err != nil {
		return nil, err
	}
	log.Info("vendor job submitted", zap.String("job_id", job.ID))

	job, err = r.client.WaitForCompletion(ctx, job.ID, r.cfg.Poll, r.clock)
	if err != nil {
		return nil, err
	}
	if job.Output == nil {
		return nil, fmt.Errorf("job %s: no output location", job.ID)
	}

	return r.xfer.Transfer(ctx, chunk.Spec.DestinationBucket, transfer.Request{
		SourcePrefix: job.Output.FolderPath,
		Locations:    transfer.LocationsFromAOIs(chunk.AOIs),
	})
}

// record persists the chunk outcome; storage failures are logged, not
// fatal, since the copy itself already happened.
func (r *Runner) record(ctx context.Context, chunk plan.Chunk, attempts int, outcome progress.Outcome, lastErr string, sum *transfer.Summary) {
	if r.store == nil {
		return
	}
	rec := progress.ChunkProgress{
		RunID:     r.cfg.RunID,
		ChunkKey:  chunk.Key(),
		Attempts:  attempts,
		Outcome:   outcome,
		LastError: lastErr,
	}
	if sum != nil {
		rec.ObjectsCopied = sum.ObjectsCopied
		rec.BytesCopied = sum.BytesCopied
	}
	if err := r.store.Upsert(ctx, rec); err != nil {
		r.logger.Error("record chunk progress",
			zap.String("chunk", chunk.Key()),
			zap.Error(err),
		)
	}
}
