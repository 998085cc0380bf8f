package domain

import "time"

// Status is a Job Lifecycle state
type Status string

const (
	StatusQueued       Status = "queued"
	StatusSending      Status = "sending"
	StatusWaitingVideo Status = "waiting_video"
	StatusDownloading  Status = "downloading"
	StatusReady        Status = "ready"
	StatusUploading    Status = "uploading"
	StatusUploaded     Status = "uploaded"
	StatusRejected     Status = "rejected"
	StatusError        Status = "error"
)

// CorrelationMode selects how a job's reply is located in the chat history
type CorrelationMode string

const (
	// ModeMarker correlates by the [JOB_ID: ...] marker embedded in the prompt
	ModeMarker CorrelationMode = "marker"
	// ModeLegacy correlates by reply-link, then by timestamp. Unsafe with concurrent jobs.
	ModeLegacy CorrelationMode = "legacy"
)

// Job is one prompt-to-artifact unit of work
type Job struct {
	JobID             string          `db:"job_id" json:"job_id"`
	Prompt            string          `db:"prompt" json:"prompt"`
	Status            Status          `db:"status" json:"status"`
	CorrelationMode   CorrelationMode `db:"correlation_mode" json:"correlation_mode"`
	RequestMessageID  *int64          `db:"request_message_id" json:"request_message_id,omitempty"`
	VideoMessageID    *int64          `db:"video_message_id" json:"video_message_id,omitempty"`
	LocalArtifactPath string          `db:"local_artifact_path" json:"local_artifact_path,omitempty"`
	StorageURL        string          `db:"storage_url" json:"storage_url,omitempty"`
	ErrorMessage      string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// IsLegacy reports whether the job uses reply-link/temporal correlation
func (j *Job) IsLegacy() bool {
	return j.CorrelationMode == ModeLegacy
}

// JobUpdate carries the fields to change on a job. Nil fields are left untouched.
// ExpectStatus turns the update into a compare-and-set on the current status.
type JobUpdate struct {
	ExpectStatus      *Status
	Status            *Status
	RequestMessageID  *int64
	LocalArtifactPath *string
	StorageURL        *string
	ErrorMessage      *string
	Note              string // recorded on the transition event only
}

// JobEvent is one persisted state transition
type JobEvent struct {
	ID         int64     `db:"id" json:"id"`
	JobID      string    `db:"job_id" json:"job_id"`
	FromStatus Status    `db:"from_status" json:"from_status"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	Message    string    `db:"message" json:"message,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// JobMessage is the RabbitMQ payload that asks a worker to advance a job
type JobMessage struct {
	JobID string `json:"job_id"`
	// Trace carries the publisher's trace context
	Trace       map[string]string `json:"trace,omitempty"`
	DeliveryTag uint64            `json:"-"`
}

// StatusPtr returns a pointer to s, for building a JobUpdate
func StatusPtr(s Status) *Status {
	return &s
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 {
	return &v
}
