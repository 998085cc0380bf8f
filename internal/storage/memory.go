package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/videogen/internal/domain"
)

// MemoryStore is an in-process JobStore. All methods are safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	claims map[int64]string
	// video ids given up by ResetForRetry; they stay claimed by the job
	released map[int64]string
	events   map[string][]domain.JobEvent
	eventID  int64
	now      func() time.Time
}

// MemoryOption customises a MemoryStore
type MemoryOption func(*MemoryStore)

// WithNow replaces the clock used for created_at/updated_at
func WithNow(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		jobs:   make(map[string]*domain.Job),
		claims:   make(map[int64]string),
		released: make(map[int64]string),
		events:   make(map[string][]domain.JobEvent),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return fmt.Errorf("job %s already exists", job.JobID)
	}

	now := s.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.JobID] = cloneJob(job)
	s.appendEvent(job.JobID, "", job.Status, "created", now)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Update(_ context.Context, jobID string, upd domain.JobUpdate) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	current := job.Status
	if upd.ExpectStatus != nil && current != *upd.ExpectStatus {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrStatusConflict, jobID, current, *upd.ExpectStatus)
	}

	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.RequestMessageID != nil && job.RequestMessageID == nil {
		job.RequestMessageID = domain.Int64Ptr(*upd.RequestMessageID)
	}
	if upd.LocalArtifactPath != nil {
		job.LocalArtifactPath = *upd.LocalArtifactPath
	}
	if upd.StorageURL != nil {
		job.StorageURL = *upd.StorageURL
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	s.touch(job)

	if upd.Status != nil && *upd.Status != current {
		s.appendEvent(jobID, current, *upd.Status, upd.Note, job.UpdatedAt)
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ClaimVideoMessage(_ context.Context, jobID string, messageID int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.StatusWaitingVideo {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrStatusConflict, jobID, job.Status, domain.StatusWaitingVideo)
	}
	if holder, taken := s.claims[messageID]; taken {
		return nil, fmt.Errorf("%w: message %d belongs to job %s", domain.ErrVideoAlreadyClaimed, messageID, holder)
	}
	if holder, taken := s.released[messageID]; taken {
		return nil, fmt.Errorf("%w: message %d was released by job %s", domain.ErrVideoAlreadyClaimed, messageID, holder)
	}

	if job.VideoMessageID != nil {
		delete(s.claims, *job.VideoMessageID)
	}
	job.VideoMessageID = domain.Int64Ptr(messageID)
	job.Status = domain.StatusDownloading
	s.claims[messageID] = jobID
	s.touch(job)
	s.appendEvent(jobID, domain.StatusWaitingVideo, domain.StatusDownloading,
		fmt.Sprintf("claimed video message %d", messageID), job.UpdatedAt)
	return cloneJob(job), nil
}

func (s *MemoryStore) ResetForRetry(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.StatusError {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrStatusConflict, jobID, job.Status, domain.StatusError)
	}

	if job.VideoMessageID != nil {
		delete(s.claims, *job.VideoMessageID)
		s.released[*job.VideoMessageID] = jobID
	}
	job.Status = domain.StatusQueued
	job.RequestMessageID = nil
	job.VideoMessageID = nil
	job.LocalArtifactPath = ""
	job.StorageURL = ""
	job.ErrorMessage = ""
	s.touch(job)
	s.appendEvent(jobID, domain.StatusError, domain.StatusQueued, "retry", job.UpdatedAt)
	return cloneJob(job), nil
}

func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(jobID)
}

func (s *MemoryStore) DeleteCascade(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteLocked(jobID); err != nil {
		return err
	}
	delete(s.events, jobID)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[domain.Status]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		wanted[st] = true
	}

	jobs := []domain.Job{}
	for _, job := range s.jobs {
		if len(wanted) > 0 && !wanted[job.Status] {
			continue
		}
		if !filter.Cursor.before(job) {
			continue
		}
		jobs = append(jobs, *cloneJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].JobID > jobs[j].JobID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if filter.PageSize > 0 && len(jobs) > filter.PageSize {
		jobs = jobs[:filter.PageSize]
	}
	return jobs, nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]domain.Job, error) {
	return s.List(ctx, ListFilter{Statuses: domain.ActiveStatuses()})
}

func (s *MemoryStore) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ClaimedVideoMessageIDs(_ context.Context) (map[int64]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claimed := make(map[int64]string, len(s.claims)+len(s.released))
	for id, jobID := range s.released {
		claimed[id] = jobID
	}
	for id, jobID := range s.claims {
		claimed[id] = jobID
	}
	return claimed, nil
}

func (s *MemoryStore) Events(_ context.Context, jobID string) ([]domain.JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.JobEvent, len(s.events[jobID]))
	copy(events, s.events[jobID])
	return events, nil
}

func (s *MemoryStore) deleteLocked(jobID string) error {
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.VideoMessageID != nil {
		delete(s.claims, *job.VideoMessageID)
	}
	for id, holder := range s.released {
		if holder == jobID {
			delete(s.released, id)
		}
	}
	delete(s.jobs, jobID)
	return nil
}

// touch advances updated_at, strictly, even if the wall clock stepped back
func (s *MemoryStore) touch(job *domain.Job) {
	now := s.now().UTC()
	if !now.After(job.UpdatedAt) {
		now = job.UpdatedAt.Add(time.Microsecond)
	}
	job.UpdatedAt = now
}

func (s *MemoryStore) appendEvent(jobID string, from, to domain.Status, message string, at time.Time) {
	s.eventID++
	s.events[jobID] = append(s.events[jobID], domain.JobEvent{
		ID:         s.eventID,
		JobID:      jobID,
		FromStatus: from,
		ToStatus:   to,
		Message:    message,
		CreatedAt:  at,
	})
}

func cloneJob(job *domain.Job) *domain.Job {
	c := *job
	if job.RequestMessageID != nil {
		c.RequestMessageID = domain.Int64Ptr(*job.RequestMessageID)
	}
	if job.VideoMessageID != nil {
		c.VideoMessageID = domain.Int64Ptr(*job.VideoMessageID)
	}
	return &c
}
