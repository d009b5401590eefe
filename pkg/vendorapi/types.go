package vendorapi

import (
	"errors"
	"fmt"
)

// JobStatus is the vendor-reported lifecycle state of a submitted job.
type JobStatus string

const (
	StatusSubmitted JobStatus = "SUBMITTED"
	StatusQueued    JobStatus = "QUEUED"
	StatusRunning   JobStatus = "RUNNING"
	StatusSuccess   JobStatus = "SUCCESS"
	StatusFailed    JobStatus = "FAILED"
	StatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// OutputLocation points at the vendor's job output in its own bucket.
type OutputLocation struct {
	// Bucket is the vendor output bucket. May be empty when the vendor
	// reports only a folder path; callers fall back to the configured
	// source bucket.
	Bucket string `json:"bucket,omitempty"`

	// FolderPath is the key prefix of the job output.
	FolderPath string `json:"folder_path"`
}

// Job is the engine's view of one vendor job.
type Job struct {
	ID     string
	Status JobStatus

	// Output is set once Status is SUCCESS.
	Output *OutputLocation
}

// Sentinel errors for vendor API outcomes.
var (
	// ErrTransient marks a network failure, throttle, or 5xx on submit or
	// poll. Retried within the chunk's attempt budget.
	ErrTransient = errors.New("transient vendor API error")

	// ErrJobCancelled indicates the vendor cancelled the job. The whole
	// chunk is resubmitted.
	ErrJobCancelled = errors.New("vendor job cancelled")

	// ErrPollTimeout indicates the job stayed non-terminal past the
	// maximum poll count. Treated like a job failure for retry purposes.
	ErrPollTimeout = errors.New("job polling exceeded maximum wait")
)

// JobFailedError indicates the vendor explicitly returned FAILED: a final
// determination, distinct from transient errors. The chunk is resubmitted.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("vendor job %s failed", e.JobID)
	}
	return fmt.Sprintf("vendor job %s failed: %s", e.JobID, e.Message)
}

// APIError is a non-transient vendor rejection (4xx) of a request.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor API rejected request: status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err should be retried as a transient failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsJobFailure reports whether err represents a terminal vendor verdict on a
// job (FAILED, CANCELLED, or poll timeout). The chunk is eligible for a full
// resubmit.
func IsJobFailure(err error) bool {
	var jf *JobFailedError
	return errors.As(err, &jf) || errors.Is(err, ErrJobCancelled) || errors.Is(err, ErrPollTimeout)
}
