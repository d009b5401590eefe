package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for object store operations. Implementations classify
// their native failures into these so callers can branch without knowing
// the backend.
var (
	ErrNotFound       = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrAccessDenied   = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed, typically
	// because assumed-role credentials expired mid-transfer.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrThrottled           = errors.New("request throttled")
)

// ProviderError carries the operation, bucket, and key alongside the
// classified cause.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string
	Key      string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAuthError reports failures a credential refresh might cure: expired or
// rejected credentials and permission denials. Transfer workers invalidate
// the credential broker and retry once on these.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInvalidCredentials)
}

// IsRetryable reports failures worth retrying in place without a credential
// refresh: throttling and provider-side unavailability.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrProviderUnavailable)
}
