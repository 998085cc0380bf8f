package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "queued to sending", from: StatusQueued, to: StatusSending, want: true},
		{name: "sending to waiting", from: StatusSending, to: StatusWaitingVideo, want: true},
		{name: "waiting to downloading", from: StatusWaitingVideo, to: StatusDownloading, want: true},
		{name: "downloading to ready", from: StatusDownloading, to: StatusReady, want: true},
		{name: "ready to uploading", from: StatusReady, to: StatusUploading, want: true},
		{name: "ready to rejected", from: StatusReady, to: StatusRejected, want: true},
		{name: "uploading to uploaded", from: StatusUploading, to: StatusUploaded, want: true},
		{name: "waiting to error", from: StatusWaitingVideo, to: StatusError, want: true},
		{name: "queued skips to ready", from: StatusQueued, to: StatusReady, want: false},
		{name: "rejected from waiting", from: StatusWaitingVideo, to: StatusRejected, want: false},
		{name: "error is terminal", from: StatusError, to: StatusQueued, want: false},
		{name: "uploaded is terminal", from: StatusUploaded, to: StatusError, want: false},
		{name: "rejected is terminal", from: StatusRejected, to: StatusUploading, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestEveryNonTerminalStateCanFail(t *testing.T) {
	for _, s := range ActiveStatuses() {
		assert.True(t, CanTransition(s, StatusError), "state %s must reach error", s)
	}
}

func TestValidateTransition(t *testing.T) {
	require.NoError(t, ValidateTransition(StatusReady, StatusRejected))

	err := ValidateTransition(StatusQueued, StatusUploaded)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "queued -> uploaded")
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusUploaded.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusReady.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
	assert.Len(t, ActiveStatuses(), 6)
}

func TestStatus_IsValid(t *testing.T) {
	assert.True(t, StatusWaitingVideo.IsValid())
	assert.False(t, Status("PENDING").IsValid())
}

func TestErrors(t *testing.T) {
	timeout := &NoMatchTimeoutError{JobID: "job-1", Elapsed: 1500 * time.Millisecond, Polls: 3}
	assert.Equal(t, "no video reply for job job-1 after 1.5s (3 polls)", timeout.Error())

	persist := &PersistenceError{Op: "claim", JobID: "job-1", Err: ErrVideoAlreadyClaimed}
	assert.True(t, errors.Is(persist, ErrVideoAlreadyClaimed))

	retry := NewRetryableError(ErrPeerUnavailable)
	var target *RetryableError
	require.True(t, errors.As(retry, &target))
	assert.True(t, errors.Is(retry, ErrPeerUnavailable))
}
