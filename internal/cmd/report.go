package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qolidata/mobsync/internal/observability"
	"github.com/qolidata/mobsync/pkg/aoi"
	"github.com/qolidata/mobsync/pkg/audit"
	"github.com/qolidata/mobsync/pkg/manifest"
	"github.com/qolidata/mobsync/pkg/provider/s3"
	"github.com/qolidata/mobsync/pkg/transfer"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report missing date partitions in the destination",
	Long: `Audit the destination buckets for gaps: for every city in the AOI
registry, enumerate the date= partitions present and report the dates of the
manifest range that have no data. The output feeds a targeted backfill, run
as a sync over the missing ranges.

Example:
  mobsync report --job run.yaml
  mobsync report --job run.yaml --out reports/missing.csv`,
	RunE: runReport,
}

var (
	reportJobPath string
	reportOutPath string
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportJobPath, "job", "j", "", "Path to run manifest (required)")
	reportCmd.Flags().StringVar(&reportOutPath, "out", "", "Write the gap report as CSV to this path")

	_ = reportCmd.MarkFlagRequired("job")
}

// bucketGaps is one destination bucket's audit result.
type bucketGaps struct {
	bucket string
	gaps   []audit.Gap
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(reportJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", reportJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	from, to, err := parseRange(m.Range)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid date range", err)
	}

	registry := aoi.NewFileRegistry(m.AOIs.Registry)
	aois, err := registry.Snapshot(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read AOI registry", err)
	}

	locs := transfer.LocationsFromAOIs(aois)
	sort.Slice(locs, func(i, j int) bool {
		return locs[i].Prefix() < locs[j].Prefix()
	})

	results, err := auditBuckets(ctx, m, locs, from, to)
	if err != nil {
		return err
	}

	printGapReport(m, results)

	if reportOutPath != "" {
		if err := writeGapsCSV(reportOutPath, results); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write gap report", err)
		}
		fmt.Printf("\nWrote report to %s\n", reportOutPath)
	}
	return nil
}

func auditBuckets(ctx context.Context, m *manifest.Manifest, locs []transfer.Location, from, to time.Time) ([]bucketGaps, error) {
	var results []bucketGaps
	for _, bucket := range distinctBuckets(m.Specs) {
		dst, err := s3.New(ctx, s3.Config{Bucket: bucket})
		if err != nil {
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to destination bucket", err)
		}
		gaps, err := audit.Run(ctx, dst, locs, from, to)
		_ = dst.Close()
		if err != nil {
			observability.CLILogger.Error("Audit failed",
				zap.String("bucket", bucket),
				zap.Error(err))
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Audit failed", err)
		}
		results = append(results, bucketGaps{bucket: bucket, gaps: gaps})
	}
	return results, nil
}

// distinctBuckets returns the destination buckets in manifest order.
func distinctBuckets(specs []manifest.SpecConfig) []string {
	seen := make(map[string]struct{}, len(specs))
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		if _, ok := seen[s.Bucket]; ok {
			continue
		}
		seen[s.Bucket] = struct{}{}
		out = append(out, s.Bucket)
	}
	return out
}

func printGapReport(m *manifest.Manifest, results []bucketGaps) {
	for _, r := range results {
		fmt.Printf("Bucket %s (%s to %s):\n", r.bucket, m.Range.From, m.Range.To)
		for _, g := range r.gaps {
			label := gapLabel(g.Location)
			if g.Complete() {
				fmt.Printf("  [OK]   %s: no missing days\n", label)
			} else {
				fmt.Printf("  [MISS] %s: %d days missing [%s]\n", label, len(g.Missing), formatRanges(g.Ranges()))
			}
		}
		fmt.Println()
	}
}

func gapLabel(loc transfer.Location) string {
	return strings.TrimPrefix(loc.Prefix(), "data/")
}

// formatRanges renders contiguous runs as "from..to", single days bare.
func formatRanges(ranges [][2]string) string {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if r[0] == r[1] {
			parts = append(parts, r[0])
		} else {
			parts = append(parts, r[0]+".."+r[1])
		}
	}
	return strings.Join(parts, "; ")
}

func writeGapsCSV(path string, results []bucketGaps) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	header := []string{"bucket", "country", "state_province", "city", "prefix", "missing_count", "missing_ranges", "missing_dates"}
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	for _, r := range results {
		for _, g := range r.gaps {
			row := []string{
				r.bucket,
				g.Location.Country,
				g.Location.State,
				g.Location.City,
				g.Location.Prefix(),
				strconv.Itoa(len(g.Missing)),
				formatRanges(g.Ranges()),
				strings.Join(g.Missing, ";"),
			}
			if err := w.Write(row); err != nil {
				_ = f.Close()
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
