// Package credbroker vends temporary AWS credentials for the vendor's
// output bucket via STS assume-role.
//
// Vendor jobs run for minutes to hours, so the credentials obtained at
// submit time are routinely stale by transfer time. The broker caches one
// credential set, refreshes it ahead of expiry, and lets a caller that hits
// an authorization failure force a refresh with Invalidate. Refresh is
// single-flight: concurrent workers crossing the expiry boundary produce one
// AssumeRole call, not one per worker.
//
// The cache is an aws.CredentialsCache owned by the broker. That matters for
// the wiring: config.LoadDefaultConfig wraps any other provider in its own
// cache, which Invalidate cannot reach. Pass Provider() to the S3 client so
// invalidation hits the cache the client actually consults.
package credbroker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"
)

// AssumeRoleAPI is the slice of the STS client the broker uses.
type AssumeRoleAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Config configures a Broker.
type Config struct {
	// RoleARN is the role granting read access to the vendor bucket.
	RoleARN string

	// ExternalID is passed to AssumeRole when the role requires one.
	ExternalID string

	// SessionPrefix prefixes the generated role session names.
	// Default: "mobsync".
	SessionPrefix string

	// Duration requested for each credential set. Default: 1h.
	Duration time.Duration

	// RefreshMargin refreshes credentials this long before they expire,
	// so a transfer started near the boundary does not race expiry.
	// Default: 5m.
	RefreshMargin time.Duration
}

// DefaultConfig returns the default broker configuration.
func DefaultConfig() Config {
	return Config{
		SessionPrefix: "mobsync",
		Duration:      time.Hour,
		RefreshMargin: 5 * time.Minute,
	}
}

// Broker caches assumed-role credentials. It implements
// aws.CredentialsProvider and is safe for concurrent use.
type Broker struct {
	cache *aws.CredentialsCache
}

// New creates a broker over the given STS client.
func New(client AssumeRoleAPI, cfg Config) (*Broker, error) {
	if client == nil {
		return nil, errors.New("credbroker: STS client is required")
	}
	if strings.TrimSpace(cfg.RoleARN) == "" {
		return nil, errors.New("credbroker: role ARN is required")
	}
	def := DefaultConfig()
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = def.SessionPrefix
	}
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = def.RefreshMargin
	}

	src := &roleSource{cfg: cfg, sts: client}
	cache := aws.NewCredentialsCache(src, func(o *aws.CredentialsCacheOptions) {
		o.ExpiryWindow = cfg.RefreshMargin
	})
	return &Broker{cache: cache}, nil
}

// Provider returns the credentials cache for the S3 client. The SDK's
// config loader uses a *aws.CredentialsCache as-is instead of wrapping it,
// keeping Invalidate effective through the client.
func (b *Broker) Provider() *aws.CredentialsCache {
	return b.cache
}

// Retrieve returns cached credentials, assuming the role again when the
// cache is empty or inside the refresh margin.
func (b *Broker) Retrieve(ctx context.Context) (aws.Credentials, error) {
	return b.cache.Retrieve(ctx)
}

// Invalidate drops the cached credentials so the next Retrieve assumes the
// role again. Called after an authorization failure mid-transfer.
func (b *Broker) Invalidate() {
	b.cache.Invalidate()
}

// roleSource performs the AssumeRole call. Caching, the refresh margin, and
// single-flight all live in the broker's aws.CredentialsCache.
type roleSource struct {
	cfg Config
	sts AssumeRoleAPI
}

func (s *roleSource) Retrieve(ctx context.Context) (aws.Credentials, error) {
	sessionName := fmt.Sprintf("%s-%s", s.cfg.SessionPrefix, uuid.NewString())
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(s.cfg.RoleARN),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(int32(s.cfg.Duration / time.Second)),
	}
	if s.cfg.ExternalID != "" {
		input.ExternalId = aws.String(s.cfg.ExternalID)
	}

	out, err := s.sts.AssumeRole(ctx, input)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("assume role %s: %w", s.cfg.RoleARN, err)
	}
	if out.Credentials == nil || out.Credentials.AccessKeyId == nil {
		return aws.Credentials{}, fmt.Errorf("assume role %s: empty credentials in response", s.cfg.RoleARN)
	}

	return aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "credbroker",
		CanExpire:       true,
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}, nil
}
