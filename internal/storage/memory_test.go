package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/videogen/internal/domain"
)

func newJob(id string) *domain.Job {
	return &domain.Job{
		JobID:           id,
		Prompt:          "prompt for " + id,
		Status:          domain.StatusQueued,
		CorrelationMode: domain.ModeMarker,
	}
}

// waitingJob creates a job and walks it to waiting_video
func waitingJob(t *testing.T, s *MemoryStore, id string, requestID int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob(id)))
	_, err := s.Update(ctx, id, domain.JobUpdate{Status: domain.StatusPtr(domain.StatusSending)})
	require.NoError(t, err)
	_, err = s.Update(ctx, id, domain.JobUpdate{
		Status:           domain.StatusPtr(domain.StatusWaitingVideo),
		RequestMessageID: domain.Int64Ptr(requestID),
	})
	require.NoError(t, err)
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newJob("job-1")))
	assert.Error(t, s.Create(ctx, newJob("job-1")))

	job, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	waitingJob(t, s, "job-1", 10)

	job, err := s.Get(context.Background(), "job-1")
	require.NoError(t, err)
	*job.RequestMessageID = 999
	job.Status = domain.StatusError

	again, err := s.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), *again.RequestMessageID)
	assert.Equal(t, domain.StatusWaitingVideo, again.Status)
}

func TestMemoryStore_UpdateCompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job-1")))

	casToSending := domain.JobUpdate{
		ExpectStatus: domain.StatusPtr(domain.StatusQueued),
		Status:       domain.StatusPtr(domain.StatusSending),
	}

	_, err := s.Update(ctx, "job-1", casToSending)
	require.NoError(t, err)

	_, err = s.Update(ctx, "job-1", casToSending)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	_, err = s.Update(ctx, "nope", casToSending)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemoryStore_RequestMessageIDWriteOnce(t *testing.T) {
	s := NewMemoryStore()
	waitingJob(t, s, "job-1", 10)

	job, err := s.Update(context.Background(), "job-1", domain.JobUpdate{RequestMessageID: domain.Int64Ptr(20)})
	require.NoError(t, err)
	assert.Equal(t, int64(10), *job.RequestMessageID)
}

func TestMemoryStore_UpdatedAtNeverMovesBackwards(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Create(ctx, newJob("job-1")))
	first, err := s.Get(ctx, "job-1")
	require.NoError(t, err)

	s.now = func() time.Time { return fixed.Add(-time.Hour) }
	updated, err := s.Update(ctx, "job-1", domain.JobUpdate{ErrorMessage: domain.StringPtr("x")})
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(first.UpdatedAt))
}

func TestMemoryStore_ClaimVideoMessage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	waitingJob(t, s, "job-a", 10)
	waitingJob(t, s, "job-b", 11)

	job, err := s.ClaimVideoMessage(ctx, "job-a", 500)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, job.Status)
	assert.Equal(t, int64(500), *job.VideoMessageID)

	_, err = s.ClaimVideoMessage(ctx, "job-b", 500)
	assert.ErrorIs(t, err, domain.ErrVideoAlreadyClaimed)

	b, err := s.Get(ctx, "job-b")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingVideo, b.Status)
	assert.Nil(t, b.VideoMessageID)

	_, err = s.ClaimVideoMessage(ctx, "job-a", 501)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	claimed, err := s.ClaimedVideoMessageIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{500: "job-a"}, claimed)
}

func TestMemoryStore_ConcurrentClaimsAtMostOneWins(t *testing.T) {
	s := NewMemoryStore()
	const n = 16
	for i := 0; i < n; i++ {
		waitingJob(t, s, fmt.Sprintf("job-%02d", i), int64(i))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.ClaimVideoMessage(context.Background(), id, 777)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrVideoAlreadyClaimed):
				conflicts++
			}
		}(fmt.Sprintf("job-%02d", i))
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestMemoryStore_ResetForRetry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	waitingJob(t, s, "job-1", 10)
	_, err := s.ClaimVideoMessage(ctx, "job-1", 500)
	require.NoError(t, err)

	_, err = s.ResetForRetry(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	_, err = s.Update(ctx, "job-1", domain.JobUpdate{
		Status:       domain.StatusPtr(domain.StatusError),
		ErrorMessage: domain.StringPtr("download failed"),
	})
	require.NoError(t, err)

	job, err := s.ResetForRetry(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Nil(t, job.RequestMessageID)
	assert.Nil(t, job.VideoMessageID)
	assert.Empty(t, job.ErrorMessage)

	claimed, err := s.ClaimedVideoMessageIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{500: "job-1"}, claimed)
}

func TestMemoryStore_ResetKeepsReleasedVideoClaimed(t *testing.T) {
	tests := []struct {
		name     string
		claimant string
		wantErr  error
	}{
		{name: "another job", claimant: "job-b", wantErr: domain.ErrVideoAlreadyClaimed},
		{name: "the retried job", claimant: "job-a", wantErr: domain.ErrVideoAlreadyClaimed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			ctx := context.Background()
			waitingJob(t, s, "job-a", 10)
			_, err := s.ClaimVideoMessage(ctx, "job-a", 42)
			require.NoError(t, err)
			_, err = s.Update(ctx, "job-a", domain.JobUpdate{Status: domain.StatusPtr(domain.StatusError)})
			require.NoError(t, err)
			_, err = s.ResetForRetry(ctx, "job-a")
			require.NoError(t, err)

			claimed, err := s.ClaimedVideoMessageIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[int64]string{42: "job-a"}, claimed)

			if tt.claimant == "job-a" {
				_, err = s.Update(ctx, "job-a", domain.JobUpdate{Status: domain.StatusPtr(domain.StatusSending)})
				require.NoError(t, err)
				_, err = s.Update(ctx, "job-a", domain.JobUpdate{
					Status:           domain.StatusPtr(domain.StatusWaitingVideo),
					RequestMessageID: domain.Int64Ptr(11),
				})
				require.NoError(t, err)
			} else {
				waitingJob(t, s, tt.claimant, 20)
			}

			_, err = s.ClaimVideoMessage(ctx, tt.claimant, 42)
			assert.ErrorIs(t, err, tt.wantErr)

			job, err := s.ClaimVideoMessage(ctx, tt.claimant, 43)
			require.NoError(t, err)
			assert.Equal(t, int64(43), *job.VideoMessageID)

			claimed, err = s.ClaimedVideoMessageIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[int64]string{42: "job-a", 43: tt.claimant}, claimed)
		})
	}
}

func TestMemoryStore_DeleteDropsReleasedClaims(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	waitingJob(t, s, "job-a", 10)
	_, err := s.ClaimVideoMessage(ctx, "job-a", 42)
	require.NoError(t, err)
	_, err = s.Update(ctx, "job-a", domain.JobUpdate{Status: domain.StatusPtr(domain.StatusError)})
	require.NoError(t, err)
	_, err = s.ResetForRetry(ctx, "job-a")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "job-a"))

	claimed, err := s.ClaimedVideoMessageIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMemoryStore_EventsTrackTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	waitingJob(t, s, "job-1", 10)

	events, err := s.Events(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.Status(""), events[0].FromStatus)
	assert.Equal(t, domain.StatusQueued, events[0].ToStatus)
	assert.Equal(t, domain.StatusSending, events[2].FromStatus)
	assert.Equal(t, domain.StatusWaitingVideo, events[2].ToStatus)
}

func TestMemoryStore_DeleteAndCascade(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("job-1")))
	require.NoError(t, s.Create(ctx, newJob("job-2")))

	require.NoError(t, s.Delete(ctx, "job-1"))
	events, err := s.Events(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	require.NoError(t, s.DeleteCascade(ctx, "job-2"))
	events, err = s.Events(ctx, "job-2")
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.ErrorIs(t, s.Delete(ctx, "job-1"), domain.ErrJobNotFound)
	assert.ErrorIs(t, s.DeleteCascade(ctx, "job-1"), domain.ErrJobNotFound)
}

func TestMemoryStore_ListAndCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, s.Create(ctx, newJob(fmt.Sprintf("job-%d", i))))
	}
	_, err := s.Update(ctx, "job-0", domain.JobUpdate{Status: domain.StatusPtr(domain.StatusError)})
	require.NoError(t, err)

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "job-4", all[0].JobID)
	assert.Equal(t, "job-0", all[4].JobID)

	page, err := s.List(ctx, ListFilter{
		PageSize: 2,
		Cursor:   &JobCursor{CreatedAt: all[1].CreatedAt, JobID: all[1].JobID},
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "job-2", page[0].JobID)
	assert.Equal(t, "job-1", page[1].JobID)

	failed, err := s.List(ctx, ListFilter{Statuses: []domain.Status{domain.StatusError}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "job-0", failed[0].JobID)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 4)

	count, err := s.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
