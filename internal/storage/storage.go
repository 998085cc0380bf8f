// Package storage persists Jobs and their transition history.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/videogen/internal/domain"
)

// JobStore is the single source of truth for jobs and for claimed video messages
type JobStore interface {
	// Create inserts a new job
	Create(ctx context.Context, job *domain.Job) error

	// Get returns a job by id, or domain.ErrJobNotFound
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// Update applies the non-nil fields of upd. RequestMessageID is write-once:
	// once set it is never overwritten. With upd.ExpectStatus set, the update
	// fails with domain.ErrStatusConflict if the job is in another status.
	Update(ctx context.Context, jobID string, upd domain.JobUpdate) (*domain.Job, error)

	// ClaimVideoMessage records messageID as the job's result and moves it from
	// waiting_video to downloading. It fails with domain.ErrVideoAlreadyClaimed
	// when another job already holds messageID.
	ClaimVideoMessage(ctx context.Context, jobID string, messageID int64) (*domain.Job, error)

	// ResetForRetry puts a failed legacy job back to queued, clearing its message ids.
	// A video id it clears stays claimed by the job.
	ResetForRetry(ctx context.Context, jobID string) (*domain.Job, error)

	// Delete removes the job row
	Delete(ctx context.Context, jobID string) error

	// DeleteCascade removes the job row and its transition history
	DeleteCascade(ctx context.Context, jobID string) error

	// List returns jobs newest first
	List(ctx context.Context, filter ListFilter) ([]domain.Job, error)

	// ListActive returns jobs in a non-terminal status
	ListActive(ctx context.Context) ([]domain.Job, error)

	// CountActive counts jobs in a non-terminal status
	CountActive(ctx context.Context) (int, error)

	// ClaimedVideoMessageIDs maps every set or released video message id to its job id
	ClaimedVideoMessageIDs(ctx context.Context) (map[int64]string, error)

	// Events returns the job's transitions, oldest first
	Events(ctx context.Context, jobID string) ([]domain.JobEvent, error)
}

// JobCursor marks the last row of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListFilter narrows List. Zero PageSize means no limit.
type ListFilter struct {
	Statuses []domain.Status
	PageSize int
	Cursor   *JobCursor
}

// before reports whether job sorts after the cursor in newest-first order
func (c *JobCursor) before(job *domain.Job) bool {
	if c == nil {
		return true
	}
	if job.CreatedAt.Equal(c.CreatedAt) {
		return job.JobID < c.JobID
	}
	return job.CreatedAt.Before(c.CreatedAt)
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
