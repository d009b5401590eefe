package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/qolidata/mobsync/internal/observability"
	"github.com/qolidata/mobsync/pkg/aoi"
	"github.com/qolidata/mobsync/pkg/credbroker"
	"github.com/qolidata/mobsync/pkg/manifest"
	"github.com/qolidata/mobsync/pkg/notify"
	"github.com/qolidata/mobsync/pkg/plan"
	"github.com/qolidata/mobsync/pkg/progress"
	"github.com/qolidata/mobsync/pkg/provider/s3"
	"github.com/qolidata/mobsync/pkg/runner"
	"github.com/qolidata/mobsync/pkg/transfer"
	"github.com/qolidata/mobsync/pkg/vendorapi"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync from a manifest",
	Long: `Run a full sync as defined in a YAML or JSON run manifest.

The manifest specifies the vendor connection, the AOI registry, the date
range, the endpoint/schema selections, and sync tuning. The vendor API key
comes from the MOBSYNC_API_KEY environment variable.

Example:
  mobsync sync --job run.yaml
  mobsync sync --job run.yaml --dry-run
  mobsync sync --job run.yaml --run-id 2026-03-backfill`,
	RunE: runSync,
}

var (
	syncJobPath string
	syncRunID   string
	syncDryRun  bool
	syncPlan    bool
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&syncJobPath, "job", "j", "", "Path to run manifest (required)")
	syncCmd.Flags().StringVar(&syncRunID, "run-id", "", "Run identifier for progress tracking (default: generated)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Validate manifest and show plan without executing")
	syncCmd.Flags().BoolVar(&syncPlan, "plan", false, "Alias for --dry-run")

	_ = syncCmd.MarkFlagRequired("job")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, chunks, err := loadPlan(ctx, syncJobPath)
	if err != nil {
		return err
	}

	if syncPlan || syncDryRun {
		return showSyncPlan(m, chunks)
	}

	return executeSync(ctx, m, chunks, syncRunID)
}

// loadPlan loads the manifest, snapshots the AOI registry, and partitions
// the run into chunks.
func loadPlan(ctx context.Context, jobPath string) (*manifest.Manifest, []plan.Chunk, error) {
	m, err := manifest.Load(jobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", jobPath),
			zap.Error(err))
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	from, to, err := parseRange(m.Range)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid date range", err)
	}

	registry := aoi.NewFileRegistry(m.AOIs.Registry)
	aois, err := registry.Snapshot(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to read AOI registry",
			zap.String("path", m.AOIs.Registry),
			zap.Error(err))
		return nil, nil, exitError(foundry.ExitFileReadError, "Failed to read AOI registry", err)
	}

	specs := make([]plan.SyncSpec, 0, len(m.Specs))
	for _, s := range m.Specs {
		specs = append(specs, plan.SyncSpec{
			Endpoint:          s.Endpoint,
			Schema:            plan.SchemaType(s.Schema),
			DestinationBucket: s.Bucket,
		})
	}

	chunks, err := plan.Build(aois, from, to, specs)
	if err != nil {
		observability.CLILogger.Error("Failed to build sync plan", zap.Error(err))
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid sync configuration", err)
	}

	observability.CLILogger.Debug("Built sync plan",
		zap.Int("aois", len(aois)),
		zap.Int("specs", len(specs)),
		zap.Int("chunks", len(chunks)))

	return m, chunks, nil
}

func parseRange(r manifest.RangeConfig) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation("2006-01-02", r.From, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q: %w", r.From, err)
	}
	to, err := time.ParseInLocation("2006-01-02", r.To, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q: %w", r.To, err)
	}
	return from, to, nil
}

// showSyncPlan displays what would be synced without executing.
func showSyncPlan(m *manifest.Manifest, chunks []plan.Chunk) error {
	batches := make(map[int]struct{})
	windows := make(map[int]struct{})
	for i := range chunks {
		batches[chunks[i].BatchIndex] = struct{}{}
		windows[chunks[i].WindowIndex] = struct{}{}
	}

	fmt.Println("=== Sync Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Vendor:       %s\n", m.Vendor.BaseURL)
	fmt.Printf("Registry:     %s\n", m.AOIs.Registry)
	fmt.Printf("Date range:   %s to %s\n", m.Range.From, m.Range.To)
	fmt.Printf("Source:       s3://%s\n", m.Source.Bucket)
	if m.Source.RoleARN != "" {
		fmt.Printf("Read role:    %s\n", m.Source.RoleARN)
	}
	fmt.Println()
	fmt.Println("Specs:")
	for _, s := range m.Specs {
		fmt.Printf("  - %s (%s) -> s3://%s\n", s.Endpoint, s.Schema, s.Bucket)
	}
	fmt.Println()
	fmt.Printf("AOI batches:  %d\n", len(batches))
	fmt.Printf("Date windows: %d\n", len(windows))
	fmt.Printf("Chunks:       %d\n", len(chunks))
	fmt.Printf("Workers:      %d\n", m.Sync.Workers)
	fmt.Printf("Filter:       %s\n", m.Sync.Filter)
	fmt.Println()
	fmt.Println("Manifest validated successfully. Remove --dry-run to execute.")
	return nil
}

// executeSync wires up the full pipeline and runs it.
func executeSync(ctx context.Context, m *manifest.Manifest, chunks []plan.Chunk, runID string) error {
	apiKey := viper.GetString("api_key")
	if apiKey == "" {
		return exitError(foundry.ExitInvalidArgument, "Missing vendor API key",
			errors.New("set MOBSYNC_API_KEY"))
	}

	client, err := vendorapi.New(vendorapi.Config{
		BaseURL:   m.Vendor.BaseURL,
		APIKey:    apiKey,
		RateLimit: m.Vendor.RateLimit,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid vendor configuration", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to load AWS configuration", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to load AWS configuration", err)
	}

	var broker *credbroker.Broker
	var srcCreds aws.CredentialsProvider
	if m.Source.RoleARN != "" {
		broker, err = credbroker.New(sts.NewFromConfig(awsCfg), credbroker.Config{
			RoleARN:    m.Source.RoleARN,
			ExternalID: m.Source.ExternalID,
		})
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid source role configuration", err)
		}
		// The broker's own cache must be what the S3 client consults, or
		// Invalidate after an auth failure never reaches it.
		srcCreds = broker.Provider()
	}

	src, err := s3.New(ctx, s3.Config{
		Bucket:              m.Source.Bucket,
		Region:              m.Source.Region,
		CredentialsProvider: srcCreds,
	})
	if err != nil {
		observability.CLILogger.Error("Failed to create source provider", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to source bucket", err)
	}
	defer func() { _ = src.Close() }()

	mux, closeDst, err := buildTransfers(ctx, m, src, broker)
	if err != nil {
		observability.CLILogger.Error("Failed to create transfer executors", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to destination buckets", err)
	}
	defer closeDst()

	store, err := progress.Open(ctx, progress.Config{Path: m.Progress.Path})
	if err != nil {
		observability.CLILogger.Error("Failed to open progress store",
			zap.String("path", m.Progress.Path),
			zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to open progress store", err)
	}
	defer func() { _ = store.Close() }()

	notifier, err := buildNotifier(m, awsCfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid notification configuration", err)
	}

	r, err := runner.New(chunks, client, mux, store, nil, observability.CLILogger, runner.Config{
		RunID:        runID,
		Workers:      m.Sync.Workers,
		MaxAttempts:  m.Sync.MaxAttempts,
		RetryBackoff: time.Duration(m.Sync.RetryBackoffSeconds) * time.Second,
		Poll: vendorapi.PollConfig{
			Interval: time.Duration(m.Sync.PollIntervalSeconds) * time.Second,
			MaxPolls: m.Sync.MaxPolls,
		},
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid run configuration", err)
	}

	observability.CLILogger.Info("Starting sync",
		zap.Int("chunks", len(chunks)),
		zap.Int("workers", m.Sync.Workers))

	summary, runErr := r.Run(ctx)
	if err := runner.Announce(ctx, notifier, summary); err != nil {
		observability.CLILogger.Warn("Failed to publish run summary", zap.Error(err))
	}
	printRunSummary(summary)

	if runErr != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Sync cancelled", runErr)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Sync failed", runErr)
	}
	if summary.Outcome != runner.OutcomeSuccess {
		return exitError(foundry.ExitExternalServiceUnavailable, "Sync finished with failed chunks",
			fmt.Errorf("%d of %d chunks failed", summary.ChunksFailed, summary.ChunksTotal))
	}
	return nil
}

// bucketTransfers routes chunk transfers to the executor for the chunk's
// destination bucket.
type bucketTransfers struct {
	execs map[string]*transfer.Executor
}

func (b *bucketTransfers) Transfer(ctx context.Context, destBucket string, req transfer.Request) (*transfer.Summary, error) {
	exec, ok := b.execs[destBucket]
	if !ok {
		return nil, fmt.Errorf("no transfer executor for bucket %s", destBucket)
	}
	return exec.Run(ctx, req)
}

// buildTransfers creates one destination provider and transfer executor per
// distinct destination bucket in the manifest.
func buildTransfers(ctx context.Context, m *manifest.Manifest, src *s3.Provider, broker *credbroker.Broker) (*bucketTransfers, func(), error) {
	var invalidator transfer.CredentialInvalidator
	if broker != nil {
		invalidator = broker
	}

	mux := &bucketTransfers{execs: make(map[string]*transfer.Executor)}
	var dsts []*s3.Provider
	closeAll := func() {
		for _, d := range dsts {
			_ = d.Close()
		}
	}

	for _, spec := range m.Specs {
		if _, ok := mux.execs[spec.Bucket]; ok {
			continue
		}
		dst, err := s3.New(ctx, s3.Config{Bucket: spec.Bucket})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("destination bucket %s: %w", spec.Bucket, err)
		}
		dsts = append(dsts, dst)

		exec, err := transfer.New(src, dst, invalidator, transfer.Config{
			Filter:   m.Sync.Filter,
			Excludes: m.Sync.Excludes,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("transfer executor for %s: %w", spec.Bucket, err)
		}
		mux.execs[spec.Bucket] = exec
	}

	return mux, closeAll, nil
}

func buildNotifier(m *manifest.Manifest, awsCfg aws.Config) (notify.Notifier, error) {
	if m.Notify.TopicARN == "" {
		return notify.NewLog(observability.CLILogger), nil
	}
	return notify.NewSNS(sns.NewFromConfig(awsCfg), m.Notify.TopicARN)
}

func printRunSummary(s *runner.RunSummary) {
	fmt.Println()
	fmt.Printf("Run %s: %s\n", s.RunID, s.Outcome)
	fmt.Printf("  Chunks:   %d total, %d succeeded, %d failed, %d skipped\n",
		s.ChunksTotal, s.ChunksSucceeded, s.ChunksFailed, s.ChunksSkipped)
	fmt.Printf("  Copied:   %d objects, %d bytes\n", s.ObjectsCopied, s.BytesCopied)
	fmt.Printf("  Duration: %s\n", s.Duration.Round(time.Second))
	for _, f := range s.Failed {
		fmt.Printf("  FAILED %s (attempts %d): %s\n", f.Key, f.Attempts, f.Reason)
	}
}
