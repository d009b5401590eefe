package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qolidata/mobsync/pkg/provider"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

var staticCreds = credentials.NewStaticCredentialsProvider("AKIA-TEST", "secret", "")

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "empty bucket",
			config:  Config{},
			wantErr: "bucket name is required",
		},
		{
			name: "valid minimal config",
			config: Config{
				Bucket: "my-bucket",
			},
			wantErr: "",
		},
		{
			name: "valid config with region",
			config: Config{
				Bucket: "my-bucket",
				Region: "us-east-1",
			},
			wantErr: "",
		},
		{
			name: "valid config with credentials provider",
			config: Config{
				Bucket:              "vendor-exports",
				CredentialsProvider: staticCreds,
			},
			wantErr: "",
		},
		{
			name: "credentials provider and profile conflict",
			config: Config{
				Bucket:              "vendor-exports",
				CredentialsProvider: staticCreds,
				Profile:             "prod",
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "valid S3-compatible config",
			config: Config{
				Bucket:         "my-bucket",
				Endpoint:       "http://localhost:9000",
				ForcePathStyle: true,
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{
		Field:   "Bucket",
		Message: "bucket name is required",
	}
	assert.Equal(t, "s3 config: Bucket: bucket name is required", err.Error())
}

func TestWrapError_NotFound(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	noSuchKey := &types.NoSuchKey{}
	err := p.wrapError("Head", "missing.parquet", noSuchKey)

	var provErr *provider.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "Head", provErr.Op)
	assert.Equal(t, provider.ProviderS3, provErr.Provider)
	assert.Equal(t, "test-bucket", provErr.Bucket)
	assert.Equal(t, "missing.parquet", provErr.Key)
	assert.True(t, errors.Is(err, provider.ErrNotFound))
}

func TestWrapError_BucketNotFound(t *testing.T) {
	p := &Provider{bucket: "missing-bucket"}

	noSuchBucket := &types.NoSuchBucket{}
	err := p.wrapError("List", "", noSuchBucket)

	assert.True(t, errors.Is(err, provider.ErrBucketNotFound))
}

func TestWrapError_APIError(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	tests := []struct {
		name     string
		code     string
		expected error
	}{
		{"NoSuchKey", "NoSuchKey", provider.ErrNotFound},
		{"NotFound", "NotFound", provider.ErrNotFound},
		{"NoSuchBucket", "NoSuchBucket", provider.ErrBucketNotFound},
		{"AccessDenied", "AccessDenied", provider.ErrAccessDenied},
		{"Forbidden", "Forbidden", provider.ErrAccessDenied},
		{"InvalidAccessKeyId", "InvalidAccessKeyId", provider.ErrInvalidCredentials},
		{"SignatureDoesNotMatch", "SignatureDoesNotMatch", provider.ErrInvalidCredentials},
		{"ExpiredToken", "ExpiredToken", provider.ErrInvalidCredentials},
		{"TokenRefreshRequired", "TokenRefreshRequired", provider.ErrInvalidCredentials},
		{"SlowDown", "SlowDown", provider.ErrThrottled},
		{"Throttling", "Throttling", provider.ErrThrottled},
		{"RequestLimitExceeded", "RequestLimitExceeded", provider.ErrThrottled},
		{"ServiceUnavailable", "ServiceUnavailable", provider.ErrProviderUnavailable},
		{"InternalError", "InternalError", provider.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &mockAPIError{code: tt.code, message: "test message"}
			err := p.wrapError("Test", "key", apiErr)
			assert.True(t, errors.Is(err, tt.expected), "expected %v for code %s", tt.expected, tt.code)
		})
	}
}

func TestWrapError_FromMessage(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	tests := []struct {
		name     string
		errMsg   string
		expected error
	}{
		{"access denied", "AccessDenied: Access Denied", provider.ErrAccessDenied},
		{"403", "operation error: https response error StatusCode: 403", provider.ErrAccessDenied},
		{"no such key", "NoSuchKey: The specified key does not exist", provider.ErrNotFound},
		{"404", "operation error: https response error StatusCode: 404", provider.ErrNotFound},
		{"no such bucket", "NoSuchBucket: bucket does not exist", provider.ErrBucketNotFound},
		{"expired token", "ExpiredToken: The provided token has expired", provider.ErrInvalidCredentials},
		{"signature mismatch", "SignatureDoesNotMatch: invalid signature", provider.ErrInvalidCredentials},
		{"slow down", "SlowDown: Please reduce your request rate", provider.ErrThrottled},
		{"429", "operation error: https response error StatusCode: 429", provider.ErrThrottled},
		{"service unavailable", "ServiceUnavailable: try again", provider.ErrProviderUnavailable},
		{"503", "operation error: https response error StatusCode: 503", provider.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.wrapError("Test", "key", errors.New(tt.errMsg))
			assert.True(t, errors.Is(err, tt.expected))
		})
	}
}

func TestWrapError_AuthErrorsTriggerRefresh(t *testing.T) {
	p := &Provider{bucket: "vendor-exports"}

	expired := p.wrapError("GetObject", "exports/a.parquet", &mockAPIError{code: "ExpiredToken"})
	assert.True(t, provider.IsAuthError(expired))

	denied := p.wrapError("List", "", &mockAPIError{code: "AccessDenied"})
	assert.True(t, provider.IsAuthError(denied))

	throttled := p.wrapError("List", "", &mockAPIError{code: "SlowDown"})
	assert.False(t, provider.IsAuthError(throttled))
	assert.True(t, provider.IsRetryable(throttled))
}

func TestNew_ValidationError(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{})
	require.Error(t, err)

	var configErr *ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestCleanETag(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", cleanETag(`"d41d8cd98f00b204e9800998ecf8427e"`))
	assert.Equal(t, "abc", cleanETag("abc"))
	assert.Equal(t, "", cleanETag(""))
}

func TestMaxKeysClamping(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		pMaxKeys int
		expected int
	}{
		{"zero uses provider default", 0, DefaultMaxKeys, DefaultMaxKeys},
		{"negative uses provider default", -1, DefaultMaxKeys, DefaultMaxKeys},
		{"within limit unchanged", 500, DefaultMaxKeys, 500},
		{"at limit unchanged", 1000, DefaultMaxKeys, 1000},
		{"over limit clamped", 2000, DefaultMaxKeys, MaxAllowedKeys},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, clampMaxKeys(tt.input, tt.pMaxKeys))
		})
	}
}

func TestResolveRegion(t *testing.T) {
	tests := []struct {
		name      string
		cfgRegion string
		endpoint  string
		sdkRegion string
		expected  string
	}{
		{"SDK resolved region wins", "", "", "eu-west-1", "eu-west-1"},
		{"explicit region flows through SDK", "us-west-2", "", "us-west-2", "us-west-2"},
		{"AWS default when unresolved", "", "", "", DefaultAWSRegion},
		{"no default for custom endpoint", "", "http://localhost:9000", "", ""},
		{"custom endpoint with region keeps it", "", "http://localhost:9000", "us-east-2", "us-east-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolveRegion(tt.cfgRegion, tt.endpoint, tt.sdkRegion))
		})
	}
}
