package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrStatusConflict is returned when a compare-and-set update finds the job in another status
	ErrStatusConflict = errors.New("job status changed concurrently")

	// ErrInvalidTransition is returned for a lifecycle edge that does not exist
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrVideoAlreadyClaimed is returned when the video message is already attributed to another job
	ErrVideoAlreadyClaimed = errors.New("video message already claimed by another job")

	// ErrAuthentication means the chat session is invalid. Fatal, never retried.
	ErrAuthentication = errors.New("chat session is not authenticated")

	// ErrPeerUnavailable means the agent identity could not be resolved. Retried on the next poll.
	ErrPeerUnavailable = errors.New("chat peer unavailable")

	// ErrEmptyPayload is returned when a downloaded artifact has zero size
	ErrEmptyPayload = errors.New("downloaded payload is empty")
)

// NoMatchTimeoutError is returned when the wait budget is exhausted without an accepted candidate
type NoMatchTimeoutError struct {
	JobID   string
	Elapsed time.Duration
	Polls   int
}

func (e *NoMatchTimeoutError) Error() string {
	return fmt.Sprintf("no video reply for job %s after %s (%d polls)", e.JobID, e.Elapsed.Round(time.Millisecond), e.Polls)
}

// PersistenceError wraps a failed Job Store write
type PersistenceError struct {
	Op    string
	JobID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RetryableError wraps errors that should put the job message back on the queue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
