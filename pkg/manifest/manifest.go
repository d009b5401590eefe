// Package manifest provides loading and validation of mobsync run manifests.
//
// A run manifest is a YAML or JSON file that configures all aspects of a sync
// run: the vendor connection, the AOI registry, the date range, the
// endpoint/schema selections, and sync tuning.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown
// properties. Secrets (the vendor API key) never live in the manifest; they
// come from the environment.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	vendor:
//	  base_url: https://api.example-mobility.com
//	aois:
//	  registry: cities.json
//	range:
//	  from: "2026-03-01"
//	  to: "2026-03-31"
//	source:
//	  bucket: vendor-exports
//	  role_arn: arn:aws:iam::123456789012:role/vendor-read
//	specs:
//	  - endpoint: movement/job/pings
//	    schema: FULL
//	    bucket: mobility-data-lake
package manifest

// Manifest represents a validated run manifest.
//
// Required fields are Version, Vendor, AOIs, Range, Source, and at least one
// entry in Specs. Sync, Notify, and Progress are optional with sensible
// defaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Vendor configures the vendor job API connection.
	Vendor VendorConfig `json:"vendor" yaml:"vendor"`

	// AOIs configures the city registry snapshot.
	AOIs AOIConfig `json:"aois" yaml:"aois"`

	// Range is the inclusive date range to sync.
	Range RangeConfig `json:"range" yaml:"range"`

	// Source configures access to the vendor export bucket.
	Source SourceConfig `json:"source" yaml:"source"`

	// Specs selects the endpoint/schema pairs to sync and where each lands.
	Specs []SpecConfig `json:"specs" yaml:"specs"`

	// Sync configures worker pool, retry, and polling behavior (optional).
	Sync SyncConfig `json:"sync,omitempty" yaml:"sync,omitempty"`

	// Notify configures run summary notifications (optional).
	Notify NotifyConfig `json:"notify,omitempty" yaml:"notify,omitempty"`

	// Progress configures the resumable progress store (optional).
	Progress ProgressConfig `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// VendorConfig configures the vendor job API connection.
//
// The API key is deliberately absent: it is read from the environment so
// manifests can be committed to source control.
type VendorConfig struct {
	// BaseURL is the vendor API base URL, e.g. "https://api.example.com".
	BaseURL string `json:"base_url" yaml:"base_url"`

	// RateLimit is the maximum requests per second against the vendor API
	// (0 = unlimited). Default: 0.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// AOIConfig locates the AOI registry snapshot.
type AOIConfig struct {
	// Registry is the path to the city registry file (JSON or YAML).
	Registry string `json:"registry" yaml:"registry"`
}

// RangeConfig is the inclusive date range to sync, ISO dates.
type RangeConfig struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// SourceConfig configures access to the vendor's export bucket.
type SourceConfig struct {
	// Bucket is the vendor export bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region of the export bucket. Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// RoleARN is the cross-account read role to assume for the export
	// bucket. When empty, the default credential chain is used directly.
	RoleARN string `json:"role_arn,omitempty" yaml:"role_arn,omitempty"`

	// ExternalID is the optional external id for the assume-role call.
	ExternalID string `json:"external_id,omitempty" yaml:"external_id,omitempty"`
}

// SpecConfig selects one vendor endpoint/schema pair and its destination.
type SpecConfig struct {
	// Endpoint is the vendor job endpoint, e.g. "movement/job/pings".
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Schema is the vendor column set: BASIC, FULL, or TRIPS.
	Schema string `json:"schema" yaml:"schema"`

	// Bucket is the destination bucket for this endpoint's output.
	Bucket string `json:"bucket" yaml:"bucket"`
}

// SyncConfig configures sync behavior.
//
// All fields are optional with defaults applied during loading.
type SyncConfig struct {
	// Workers is the number of chunks processed concurrently.
	// Range: 1-32. Default: 4.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// MaxAttempts is the per-chunk attempt budget. Default: 3.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// RetryBackoffSeconds is the delay before a chunk's second attempt; it
	// doubles per further attempt. Default: 30.
	RetryBackoffSeconds int `json:"retry_backoff_seconds,omitempty" yaml:"retry_backoff_seconds,omitempty"`

	// PollIntervalSeconds is the delay between job status polls. Default: 60.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty" yaml:"poll_interval_seconds,omitempty"`

	// MaxPolls bounds the polling loop per job. Default: 100.
	MaxPolls int `json:"max_polls,omitempty" yaml:"max_polls,omitempty"`

	// Filter is the content glob applied to source keys.
	// Default: "**/*.parquet".
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`

	// Excludes are globs removing keys the filter matched. Optional.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
}

// NotifyConfig configures run summary notifications.
type NotifyConfig struct {
	// TopicARN is the SNS topic to publish run summaries to. When empty,
	// summaries are logged instead.
	TopicARN string `json:"topic_arn,omitempty" yaml:"topic_arn,omitempty"`
}

// ProgressConfig configures the resumable progress store.
type ProgressConfig struct {
	// Path is the SQLite database file for chunk progress.
	// Default: ".mobsync/progress.db".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultWorkers is the default chunk concurrency.
	DefaultWorkers = 4

	// DefaultMaxAttempts is the default per-chunk attempt budget.
	DefaultMaxAttempts = 3

	// DefaultRetryBackoffSeconds is the default base retry backoff.
	DefaultRetryBackoffSeconds = 30

	// DefaultPollIntervalSeconds is the default job poll interval.
	DefaultPollIntervalSeconds = 60

	// DefaultMaxPolls is the default polling budget per job.
	DefaultMaxPolls = 100

	// DefaultFilter is the default content glob.
	DefaultFilter = "**/*.parquet"

	// DefaultProgressPath is the default progress database location.
	DefaultProgressPath = ".mobsync/progress.db"
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest so callers
// never reason about zero values.
func (m *Manifest) ApplyDefaults() {
	if m.Sync.Workers == 0 {
		m.Sync.Workers = DefaultWorkers
	}
	if m.Sync.MaxAttempts == 0 {
		m.Sync.MaxAttempts = DefaultMaxAttempts
	}
	if m.Sync.RetryBackoffSeconds == 0 {
		m.Sync.RetryBackoffSeconds = DefaultRetryBackoffSeconds
	}
	if m.Sync.PollIntervalSeconds == 0 {
		m.Sync.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if m.Sync.MaxPolls == 0 {
		m.Sync.MaxPolls = DefaultMaxPolls
	}
	if m.Sync.Filter == "" {
		m.Sync.Filter = DefaultFilter
	}
	if m.Progress.Path == "" {
		m.Progress.Path = DefaultProgressPath
	}
	// Vendor.RateLimit: 0 is a valid value (unlimited), so no default needed
}
