// Package s3 implements the provider interface for AWS S3 and S3-compatible storage.
package s3

import "github.com/aws/aws-sdk-go-v2/aws"

// Config configures an S3 provider.
//
// Authentication priority:
//  1. Explicit CredentialsProvider (the assume-role broker for vendor
//     buckets)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials file (~/.aws/credentials) with Profile
//  4. EC2 instance metadata / ECS task role / EKS IRSA
//
// Region handling:
//   - For AWS S3: If Region is empty and not set via environment/profile,
//     defaults to us-east-1 (standard AWS convention).
//   - For S3-compatible stores (Endpoint set): no default region is applied.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region.
	// For AWS S3: defaults to us-east-1 if not specified via config or environment.
	// For S3-compatible (when Endpoint is set): no default applied.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3. Useful for MinIO in local development.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	// Leave empty to use the default profile or environment credentials.
	Profile string

	// CredentialsProvider overrides the default credential chain. The
	// vendor export bucket is read with assumed-role credentials vended
	// by a broker. Pass a *aws.CredentialsCache when the caller needs its
	// Invalidate to stay effective; the SDK wraps any other provider in a
	// fresh cache of its own.
	CredentialsProvider aws.CredentialsProvider

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	// Required for most S3-compatible stores.
	ForcePathStyle bool

	// MaxKeys is the default page size for List operations.
	// Zero uses the provider default (1000). Values over 1000 are clamped.
	MaxKeys int
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if c.CredentialsProvider != nil && c.Profile != "" {
		return &ConfigError{
			Field:   "CredentialsProvider/Profile",
			Message: "explicit credentials provider and shared config profile are mutually exclusive",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
