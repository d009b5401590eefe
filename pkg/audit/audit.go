// Package audit checks the destination data lake for missing date
// partitions. A sync that finished PARTIAL_FAILURE, or never ran for part
// of a range, leaves cities without their date= directories; the audit
// enumerates what is actually present per city and diffs it against the
// expected range, feeding a targeted backfill run.
package audit

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/qolidata/mobsync/pkg/provider"
	"github.com/qolidata/mobsync/pkg/transfer"
)

// Gap reports the dates one location is missing from the destination.
// Missing is ascending YYYY-MM-DD; empty means the location is complete.
type Gap struct {
	Location transfer.Location
	Missing  []string
}

// Complete reports whether the location has every expected date.
func (g Gap) Complete() bool {
	return len(g.Missing) == 0
}

// Ranges groups the missing dates into contiguous [from, to] runs, the
// shape a backfill manifest range wants.
func (g Gap) Ranges() [][2]string {
	var out [][2]string
	for i := 0; i < len(g.Missing); {
		j := i
		for j+1 < len(g.Missing) && nextDay(g.Missing[j]) == g.Missing[j+1] {
			j++
		}
		out = append(out, [2]string{g.Missing[i], g.Missing[j]})
		i = j + 1
	}
	return out
}

var datePartition = regexp.MustCompile(`^date=(\d{4}-\d{2}-\d{2})$`)

// MissingDates lists the location's partitions in p and returns the dates
// of [from, to] with no objects under a date= directory.
func MissingDates(ctx context.Context, p provider.Provider, loc transfer.Location, from, to time.Time) ([]string, error) {
	prefix := loc.Prefix() + "/"

	present := make(map[string]struct{})
	token := ""
	for {
		res, err := p.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range res.Objects {
			seg, _, _ := strings.Cut(strings.TrimPrefix(obj.Key, prefix), "/")
			if m := datePartition.FindStringSubmatch(seg); m != nil {
				present[m[1]] = struct{}{}
			}
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			break
		}
		token = res.ContinuationToken
	}

	var missing []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		ds := d.Format("2006-01-02")
		if _, ok := present[ds]; !ok {
			missing = append(missing, ds)
		}
	}
	return missing, nil
}

// Run audits every location against the expected range. Every location gets
// a Gap, complete ones included, so callers can report both sides.
func Run(ctx context.Context, p provider.Provider, locs []transfer.Location, from, to time.Time) ([]Gap, error) {
	gaps := make([]Gap, 0, len(locs))
	for _, loc := range locs {
		missing, err := MissingDates(ctx, p, loc, from, to)
		if err != nil {
			return nil, fmt.Errorf("audit %s: %w", loc.Prefix(), err)
		}
		gaps = append(gaps, Gap{Location: loc, Missing: missing})
	}
	return gaps, nil
}

func nextDay(ds string) string {
	d, err := time.Parse("2006-01-02", ds)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, 1).Format("2006-01-02")
}
