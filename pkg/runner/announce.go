package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qolidata/mobsync/pkg/notify"
)

// Announce publishes the run outcome through n. A nil notifier is a no-op.
func Announce(ctx context.Context, n notify.Notifier, sum *RunSummary) error {
	if n == nil {
		return nil
	}

	subject := fmt.Sprintf("mobsync run %s: %s", sum.RunID, sum.Outcome)

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s finished in %s.\n\n", sum.RunID, sum.Duration.Round(time.Second))
	fmt.Fprintf(&b, "Chunks: %d total, %d succeeded, %d failed, %d skipped\n",
		sum.ChunksTotal, sum.ChunksSucceeded, sum.ChunksFailed, sum.ChunksSkipped)
	fmt.Fprintf(&b, "Copied: %d objects, %d bytes\n", sum.ObjectsCopied, sum.BytesCopied)

	if len(sum.Failed) > 0 {
		b.WriteString("\nFailed chunks:\n")
		for _, f := range sum.Failed {
			fmt.Fprintf(&b, "  %s (attempts %d): %s\n", f.Key, f.Attempts, f.Reason)
		}
	}

	return n.Publish(ctx, subject, b.String())
}
