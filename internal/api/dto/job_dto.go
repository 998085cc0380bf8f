package dto

import (
	"time"

	"github.com/cuongbtq/videogen/internal/domain"
)

type CreateJobRequest struct {
	Prompt          string `json:"prompt" binding:"required"`
	CorrelationMode string `json:"correlation_mode" binding:"omitempty,oneof=marker legacy"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	Active   bool   `form:"active"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID             string `json:"job_id"`
	Prompt            string `json:"prompt"`
	Status            string `json:"status"`
	CorrelationMode   string `json:"correlation_mode"`
	RequestMessageID  *int64 `json:"request_message_id,omitempty"`
	VideoMessageID    *int64 `json:"video_message_id,omitempty"`
	LocalArtifactPath string `json:"local_artifact_path,omitempty"`
	StorageURL        string `json:"storage_url,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type JobEventDTO struct {
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Message    string `json:"message,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type JobEventsResponse struct {
	JobID  string        `json:"job_id"`
	Events []JobEventDTO `json:"events"`
}

type RetryJobResponse struct {
	Job     JobDTO `json:"job"`
	RetryOf string `json:"retry_of"`
}

type StatsResponse struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	ByStatus map[string]int `json:"by_status"`
}

func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:             job.JobID,
		Prompt:            job.Prompt,
		Status:            string(job.Status),
		CorrelationMode:   string(job.CorrelationMode),
		RequestMessageID:  job.RequestMessageID,
		VideoMessageID:    job.VideoMessageID,
		LocalArtifactPath: job.LocalArtifactPath,
		StorageURL:        job.StorageURL,
		ErrorMessage:      job.ErrorMessage,
		CreatedAt:         job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         job.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func NewJobEventDTO(event domain.JobEvent) JobEventDTO {
	return JobEventDTO{
		FromStatus: string(event.FromStatus),
		ToStatus:   string(event.ToStatus),
		Message:    event.Message,
		CreatedAt:  event.CreatedAt.Format(time.RFC3339Nano),
	}
}
