// Package plan turns an AOI list, a date range, and a set of endpoint/schema
// selections into the chunks a run executes.
//
// The vendor caps every job at 200 geometries and 31 days, so the partitioner
// splits the AOI list into batches and the date range into windows, then
// crosses them with each (endpoint, schema) pair. Chunk keys are
// deterministic so an interrupted run can address the same unit of work
// again.
package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qolidata/mobsync/pkg/aoi"
)

// Vendor-imposed per-job limits.
const (
	// MaxAOIsPerJob is the maximum geometry descriptors in one vendor job.
	MaxAOIsPerJob = 200

	// MaxDaysPerJob is the maximum date-range span of one vendor job.
	MaxDaysPerJob = 31
)

// SchemaType is the vendor-defined column set for an endpoint.
type SchemaType string

const (
	SchemaBasic SchemaType = "BASIC"
	SchemaFull  SchemaType = "FULL"
	SchemaTrips SchemaType = "TRIPS"
)

// Valid reports whether s is a known schema type.
func (s SchemaType) Valid() bool {
	switch s {
	case SchemaBasic, SchemaFull, SchemaTrips:
		return true
	}
	return false
}

// SyncSpec selects one vendor endpoint and schema, and the destination bucket
// its output lands in. Immutable for the duration of a run.
type SyncSpec struct {
	// Endpoint is the vendor job endpoint, e.g. "movement/job/pings".
	Endpoint string

	// Schema is the vendor column set to request.
	Schema SchemaType

	// DestinationBucket receives copied output for this endpoint+schema.
	DestinationBucket string
}

// Window is a contiguous, inclusive span of UTC calendar dates.
type Window struct {
	From time.Time
	To   time.Time
}

// Days returns the number of calendar days the window covers.
func (w Window) Days() int {
	return int(w.To.Sub(w.From).Hours()/24) + 1
}

// Chunk is one unit of work: an AOI batch, a date window, and one SyncSpec,
// submitted as a single vendor job. Chunks are never mutated; a retry
// supersedes the previous attempt under the same key.
type Chunk struct {
	// BatchIndex and WindowIndex position the chunk in the partition grid.
	BatchIndex  int
	WindowIndex int

	AOIs   []aoi.AOI
	Window Window
	Spec   SyncSpec
}

// Key returns the deterministic chunk identifier used for progress tracking
// and resume: batch index, window index, endpoint, schema.
func (c *Chunk) Key() string {
	endpoint := strings.ReplaceAll(c.Spec.Endpoint, "/", "-")
	return fmt.Sprintf("b%03d-w%03d-%s-%s", c.BatchIndex, c.WindowIndex, endpoint, strings.ToLower(string(c.Spec.Schema)))
}

// ConfigError marks a fatal input problem: malformed AOI, empty input, or an
// invalid date range. Runs fail before dispatch on ConfigError; it is never
// retried.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Build partitions the inputs into chunks.
//
// The result has ceil(N/200) batches x ceil(D/31) windows x len(specs)
// chunks. Windows tile [from, to] with no gaps or overlaps. The AOI list and
// every spec are validated up front; any problem is a ConfigError.
func Build(aois []aoi.AOI, from, to time.Time, specs []SyncSpec) ([]Chunk, error) {
	if len(aois) == 0 {
		return nil, configErrorf("no AOIs to sync")
	}
	if len(specs) == 0 {
		return nil, configErrorf("no endpoint/schema selections")
	}

	from = midnightUTC(from)
	to = midnightUTC(to)
	if to.Before(from) {
		return nil, configErrorf("invalid date range: from %s is after to %s", from.Format(dateLayout), to.Format(dateLayout))
	}

	seen := make(map[string]struct{}, len(aois))
	for i := range aois {
		if err := aois[i].Validate(); err != nil {
			return nil, &ConfigError{Err: err}
		}
		if _, dup := seen[aois[i].POIID]; dup {
			return nil, configErrorf("duplicate poi_id %q in AOI list", aois[i].POIID)
		}
		seen[aois[i].POIID] = struct{}{}
	}

	for i, spec := range specs {
		if strings.TrimSpace(spec.Endpoint) == "" {
			return nil, configErrorf("spec %d: endpoint is required", i)
		}
		if !spec.Schema.Valid() {
			return nil, configErrorf("spec %d: unknown schema type %q", i, spec.Schema)
		}
		if strings.TrimSpace(spec.DestinationBucket) == "" {
			return nil, configErrorf("spec %d: destination bucket is required", i)
		}
	}

	batches := batchAOIs(aois, MaxAOIsPerJob)
	windows := SplitWindows(from, to, MaxDaysPerJob)

	chunks := make([]Chunk, 0, len(batches)*len(windows)*len(specs))
	for _, spec := range specs {
		for bi, batch := range batches {
			for wi, win := range windows {
				chunks = append(chunks, Chunk{
					BatchIndex:  bi,
					WindowIndex: wi,
					AOIs:        batch,
					Window:      win,
					Spec:        spec,
				})
			}
		}
	}
	return chunks, nil
}

// SplitWindows tiles [from, to] into contiguous windows of at most maxDays
// each. Inputs must already be midnight UTC with from <= to.
func SplitWindows(from, to time.Time, maxDays int) []Window {
	if maxDays <= 0 {
		maxDays = MaxDaysPerJob
	}

	var windows []Window
	cur := from
	for !cur.After(to) {
		end := cur.AddDate(0, 0, maxDays-1)
		if end.After(to) {
			end = to
		}
		windows = append(windows, Window{From: cur, To: end})
		cur = end.AddDate(0, 0, 1)
	}
	return windows
}

func batchAOIs(aois []aoi.AOI, size int) [][]aoi.AOI {
	var batches [][]aoi.AOI
	for start := 0; start < len(aois); start += size {
		end := start + size
		if end > len(aois) {
			end = len(aois)
		}
		batches = append(batches, aois[start:end])
	}
	return batches
}

const dateLayout = "2006-01-02"

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
