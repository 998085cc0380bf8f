package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cuongbtq/videogen/internal/api/dto"
)

// JobClient handles API calls to the videogen API service.
type JobClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewJobClient creates a new client with the given base URL.
func NewJobClient(baseURL string) *JobClient {
	return &JobClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// ListOptions narrows a job listing
type ListOptions struct {
	Status   string
	Active   bool
	PageSize int
	Cursor   string
}

// SubmitJob sends POST /api/v1/jobs.
func (c *JobClient) SubmitJob(req dto.CreateJobRequest) (*dto.JobDTO, error) {
	var job dto.JobDTO
	if err := c.do(http.MethodPost, "/api/v1/jobs", req, http.StatusCreated, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob sends GET /api/v1/jobs/{id}.
func (c *JobClient) GetJob(jobID string) (*dto.JobDTO, error) {
	var job dto.JobDTO
	if err := c.do(http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, http.StatusOK, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetEvents sends GET /api/v1/jobs/{id}/events.
func (c *JobClient) GetEvents(jobID string) (*dto.JobEventsResponse, error) {
	var events dto.JobEventsResponse
	if err := c.do(http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID)+"/events", nil, http.StatusOK, &events); err != nil {
		return nil, err
	}
	return &events, nil
}

// ListJobs sends GET /api/v1/jobs.
func (c *JobClient) ListJobs(opts ListOptions) (*dto.ListJobsResponse, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Active {
		q.Set("active", "true")
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/api/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list dto.ListJobsResponse
	if err := c.do(http.MethodGet, path, nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ApproveJob sends POST /api/v1/jobs/{id}/approve.
func (c *JobClient) ApproveJob(jobID string) (*dto.JobDTO, error) {
	var job dto.JobDTO
	if err := c.do(http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/approve", nil, http.StatusAccepted, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RejectJob sends POST /api/v1/jobs/{id}/reject.
func (c *JobClient) RejectJob(jobID string) (*dto.JobDTO, error) {
	var job dto.JobDTO
	if err := c.do(http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/reject", nil, http.StatusOK, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RetryJob sends POST /api/v1/jobs/{id}/retry.
func (c *JobClient) RetryJob(jobID string) (*dto.RetryJobResponse, error) {
	var retry dto.RetryJobResponse
	if err := c.do(http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/retry", nil, http.StatusAccepted, &retry); err != nil {
		return nil, err
	}
	return &retry, nil
}

// DeleteJob sends DELETE /api/v1/jobs/{id}.
func (c *JobClient) DeleteJob(jobID string, cascade bool) error {
	path := "/api/v1/jobs/" + url.PathEscape(jobID)
	if cascade {
		path += "?cascade=true"
	}
	return c.do(http.MethodDelete, path, nil, http.StatusNoContent, nil)
}

// GetStats sends GET /api/v1/stats.
func (c *JobClient) GetStats() (*dto.StatsResponse, error) {
	var stats dto.StatsResponse
	if err := c.do(http.MethodGet, "/api/v1/stats", nil, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// do sends a request and decodes the response into out when the status is want
func (c *JobClient) do(method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage pulls "error" out of a JSON error body, falling back to the raw body
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(body))
}
