package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qolidata/mobsync/internal/observability"
	"github.com/qolidata/mobsync/pkg/progress"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a previous run, retrying failed and unfinished chunks",
	Long: `Resume a previous sync run by run id.

Chunks recorded as succeeded under the run id are skipped; failed and
never-started chunks run again. The manifest must describe the same AOI
registry, date range, and specs as the original run so chunk keys line up.

Example:
  mobsync resume --job run.yaml --run-id 2026-03-backfill`,
	RunE: runResume,
}

var (
	resumeJobPath string
	resumeRunID   string
)

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringVarP(&resumeJobPath, "job", "j", "", "Path to run manifest (required)")
	resumeCmd.Flags().StringVar(&resumeRunID, "run-id", "", "Run identifier to resume (required)")

	_ = resumeCmd.MarkFlagRequired("job")
	_ = resumeCmd.MarkFlagRequired("run-id")
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, chunks, err := loadPlan(ctx, resumeJobPath)
	if err != nil {
		return err
	}

	// Surface what is being retried before the run starts.
	store, err := progress.Open(ctx, progress.Config{Path: m.Progress.Path})
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open progress store", err)
	}
	failed, err := store.ListFailed(ctx, resumeRunID)
	closeErr := store.Close()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read run progress", err)
	}
	if closeErr != nil {
		observability.CLILogger.Warn("Failed to close progress store", zap.Error(closeErr))
	}

	if len(failed) > 0 {
		fmt.Printf("Retrying %d failed chunks from run %s:\n", len(failed), resumeRunID)
		for _, rec := range failed {
			fmt.Printf("  %s (attempts %d): %s\n", rec.ChunkKey, rec.Attempts, rec.LastError)
		}
		fmt.Println()
	} else {
		observability.CLILogger.Info("No failed chunks recorded; unfinished chunks will run",
			zap.String("run_id", resumeRunID))
	}

	return executeSync(ctx, m, chunks, resumeRunID)
}
