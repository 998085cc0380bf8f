package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/cuongbtq/videogen/internal/api/dto"
	"github.com/cuongbtq/videogen/internal/domain"
	"github.com/cuongbtq/videogen/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Creates a queued job and hands it to the worker
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "prompt must not be blank",
		})
		return
	}

	mode := h.defaultMode
	if req.CorrelationMode != "" {
		mode = domain.CorrelationMode(req.CorrelationMode)
	}

	ctx := c.Request.Context()
	if !h.admit(c) {
		return
	}

	job := &domain.Job{
		JobID:           uuid.New().String(),
		Prompt:          req.Prompt,
		Status:          domain.StatusQueued,
		CorrelationMode: mode,
	}
	if err := h.store.Create(ctx, job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	if !h.enqueue(c, job) {
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("correlation_mode", string(job.CorrelationMode)),
	)
	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// GetJobEvents handles GET /api/v1/jobs/:job_id/events
// Returns the job's status transitions, oldest first
func (h *JobHandler) GetJobEvents(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	events, err := h.store.Events(c.Request.Context(), job.JobID)
	if err != nil {
		h.logger.Error("Failed to get job events", slog.String("job_id", job.JobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job events",
		})
		return
	}

	resp := dto.JobEventsResponse{JobID: job.JobID, Events: make([]dto.JobEventDTO, len(events))}
	for i, e := range events {
		resp.Events[i] = dto.NewJobEventDTO(e)
	}
	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional status filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	statuses, err := parseStatuses(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}
	if req.Active {
		statuses = append(statuses, domain.ActiveStatuses()...)
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// one extra row tells whether there is a next page
	jobs, err := h.store.List(c.Request.Context(), storage.ListFilter{
		Statuses: statuses,
		PageSize: req.PageSize + 1,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = dto.NewJobDTO(&jobs[i])
	}
	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// ApproveJob handles POST /api/v1/jobs/:job_id/approve
// Moves a ready job to uploading and hands it back to the worker
func (h *JobHandler) ApproveJob(c *gin.Context) {
	job, ok := h.transition(c, domain.StatusReady, domain.StatusUploading, "approved")
	if !ok {
		return
	}
	if !h.enqueue(c, job) {
		return
	}
	c.JSON(http.StatusAccepted, dto.NewJobDTO(job))
}

// RejectJob handles POST /api/v1/jobs/:job_id/reject
func (h *JobHandler) RejectJob(c *gin.Context) {
	job, ok := h.transition(c, domain.StatusReady, domain.StatusRejected, "rejected")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
// A failed marker job is re-created under a new id with the same prompt.
// A failed legacy job is reset in place and keeps its id.
func (h *JobHandler) RetryJob(c *gin.Context) {
	failed, ok := h.loadJob(c)
	if !ok {
		return
	}
	if failed.Status != domain.StatusError {
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("only failed jobs can be retried, job is %s", failed.Status),
		})
		return
	}
	if !h.admit(c) {
		return
	}

	ctx := c.Request.Context()
	var (
		job *domain.Job
		err error
	)
	if failed.IsLegacy() {
		job, err = h.store.ResetForRetry(ctx, failed.JobID)
	} else {
		job = &domain.Job{
			JobID:           uuid.New().String(),
			Prompt:          failed.Prompt,
			Status:          domain.StatusQueued,
			CorrelationMode: failed.CorrelationMode,
		}
		err = h.store.Create(ctx, job)
	}
	if err != nil {
		h.respondStoreError(c, failed.JobID, "retry job", err)
		return
	}

	if !h.enqueue(c, job) {
		return
	}

	h.logger.Info("Job retried",
		slog.String("job_id", job.JobID),
		slog.String("retry_of", failed.JobID),
	)
	c.JSON(http.StatusAccepted, dto.RetryJobResponse{
		Job:     dto.NewJobDTO(job),
		RetryOf: failed.JobID,
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Jobs a worker is working on cannot be deleted. With cascade=true the job's
// history and local artifact are removed too.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	if workerOwned(job.Status) {
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("job is %s and cannot be deleted now", job.Status),
		})
		return
	}

	ctx := c.Request.Context()
	cascade := c.Query("cascade") == "true"

	var err error
	if cascade {
		err = h.store.DeleteCascade(ctx, job.JobID)
	} else {
		err = h.store.Delete(ctx, job.JobID)
	}
	if err != nil {
		h.respondStoreError(c, job.JobID, "delete job", err)
		return
	}

	if cascade && job.LocalArtifactPath != "" {
		if err := os.Remove(job.LocalArtifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("Failed to remove local artifact",
				slog.String("job_id", job.JobID),
				slog.String("path", job.LocalArtifactPath),
				slog.String("error", err.Error()),
			)
		}
	}

	h.logger.Info("Job deleted", slog.String("job_id", job.JobID), slog.Bool("cascade", cascade))
	c.Status(http.StatusNoContent)
}

// GetStats handles GET /api/v1/stats
func (h *JobHandler) GetStats(c *gin.Context) {
	jobs, err := h.store.List(c.Request.Context(), storage.ListFilter{})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get stats",
		})
		return
	}

	resp := dto.StatsResponse{Total: len(jobs), ByStatus: make(map[string]int, len(domain.AllStatuses))}
	for _, s := range domain.AllStatuses {
		resp.ByStatus[string(s)] = 0
	}
	for _, job := range jobs {
		resp.ByStatus[string(job.Status)]++
		if !job.Status.IsTerminal() {
			resp.Active++
		}
	}
	c.JSON(http.StatusOK, resp)
}

// loadJob validates the :job_id param and fetches the job, writing the error response itself
func (h *JobHandler) loadJob(c *gin.Context) (*domain.Job, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return nil, false
	}

	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		h.respondStoreError(c, jobID, "get job", err)
		return nil, false
	}
	return job, true
}

// transition applies an operator decision with a compare-and-set on from
func (h *JobHandler) transition(c *gin.Context, from, to domain.Status, note string) (*domain.Job, bool) {
	job, ok := h.loadJob(c)
	if !ok {
		return nil, false
	}
	if err := domain.ValidateTransition(job.Status, to); err != nil || job.Status != from {
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("job is %s, expected %s", job.Status, from),
		})
		return nil, false
	}

	job, err := h.store.Update(c.Request.Context(), job.JobID, domain.JobUpdate{
		ExpectStatus: domain.StatusPtr(from),
		Status:       domain.StatusPtr(to),
		Note:         note,
	})
	if err != nil {
		h.respondStoreError(c, c.Param("job_id"), note, err)
		return nil, false
	}

	h.logger.Info("Job status changed",
		slog.String("job_id", job.JobID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return job, true
}

// admit enforces limits.max_active_jobs
func (h *JobHandler) admit(c *gin.Context) bool {
	if h.maxActiveJobs <= 0 {
		return true
	}

	active, err := h.store.CountActive(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count active jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count active jobs",
		})
		return false
	}
	if active >= h.maxActiveJobs {
		h.logger.Warn("Too many active jobs",
			slog.Int("active", active),
			slog.Int("max_active_jobs", h.maxActiveJobs),
		)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("%d jobs are already active, try again later", active),
		})
		return false
	}
	return true
}

// enqueue publishes the job id for the worker. A job that cannot be enqueued
// is marked failed so it does not sit in the store forever.
func (h *JobHandler) enqueue(c *gin.Context, job *domain.Job) bool {
	ctx := c.Request.Context()

	msg := domain.JobMessage{JobID: job.JobID, Trace: map[string]string{}}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Trace))

	body, err := json.Marshal(msg)
	if err == nil {
		err = h.publisher.PublishWithRetry(ctx, body, "application/json")
	}
	if err == nil {
		return true
	}

	h.logger.Error("Failed to publish job message",
		slog.String("job_id", job.JobID),
		slog.String("error", err.Error()),
	)

	errMsg := fmt.Sprintf("failed to enqueue job: %v", err)
	if _, uerr := h.store.Update(context.WithoutCancel(ctx), job.JobID, domain.JobUpdate{
		ExpectStatus: domain.StatusPtr(job.Status),
		Status:       domain.StatusPtr(domain.StatusError),
		ErrorMessage: &errMsg,
		Note:         "enqueue failed",
	}); uerr != nil {
		h.logger.Error("Failed to mark job failed", slog.String("job_id", job.JobID), slog.String("error", uerr.Error()))
	}

	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":  "Failed to enqueue job",
		"job_id": job.JobID,
	})
	return false
}

func (h *JobHandler) respondStoreError(c *gin.Context, jobID, action string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.Is(err, domain.ErrStatusConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
	default:
		h.logger.Error("Failed to "+action, slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to " + action,
		})
	}
}

// parseStatuses reads a comma separated status filter
func parseStatuses(raw string) ([]domain.Status, error) {
	if raw == "" {
		return nil, nil
	}

	var out []domain.Status
	for _, part := range strings.Split(raw, ",") {
		s := domain.Status(strings.TrimSpace(part))
		if !s.IsValid() {
			return nil, fmt.Errorf("unknown status %q", part)
		}
		out = append(out, s)
	}
	return out, nil
}

// workerOwned reports statuses a worker is actively driving
func workerOwned(s domain.Status) bool {
	switch s {
	case domain.StatusSending, domain.StatusWaitingVideo, domain.StatusDownloading, domain.StatusUploading:
		return true
	}
	return false
}
