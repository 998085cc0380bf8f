package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/videogen/internal/domain"
	"github.com/cuongbtq/videogen/internal/storage"
)

// Publisher enqueues job messages for the worker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Store         storage.JobStore
	Publisher     Publisher
	DefaultMode   domain.CorrelationMode
	MaxActiveJobs int
	HealthChecks  map[string]HealthCheck
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger        *slog.Logger
	store         storage.JobStore
	publisher     Publisher
	defaultMode   domain.CorrelationMode
	maxActiveJobs int
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	mode := deps.DefaultMode
	if mode == "" {
		mode = domain.ModeMarker
	}

	return &JobHandler{
		logger:        deps.Logger,
		store:         deps.Store,
		publisher:     deps.Publisher,
		defaultMode:   mode,
		maxActiveJobs: deps.MaxActiveJobs,
	}
}
