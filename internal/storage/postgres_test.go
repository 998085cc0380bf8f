package storage

import (
	"context"
	"database/sql/driver"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/videogen/internal/domain"
)

var jobColumnNames = []string{
	"job_id", "prompt", "status", "correlation_mode", "request_message_id", "video_message_id",
	"local_artifact_path", "storage_url", "error_message", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock"), logger), mock
}

func jobRow(jobID string, status domain.Status, requestID, videoID driver.Value) *sqlmock.Rows {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(jobColumnNames).
		AddRow(jobID, "a cat surfing", string(status), "marker", requestID, videoID, "", "", "", at, at)
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT job_id, prompt, status`).
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", domain.StatusWaitingVideo, int64(100), nil))

	job, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingVideo, job.Status)
	require.NotNil(t, job.RequestMessageID)
	assert.Equal(t, int64(100), *job.RequestMessageID)
	assert.Nil(t, job.VideoMessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT job_id, prompt, status`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Create(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO video_jobs`).
		WithArgs("job-1", "a cat surfing", "queued", "marker").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(at, at))
	mock.ExpectExec(`INSERT INTO job_events`).
		WithArgs("job-1", "", "queued", "created").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	job := &domain.Job{
		JobID:           "job-1",
		Prompt:          "a cat surfing",
		Status:          domain.StatusQueued,
		CorrelationMode: domain.ModeMarker,
	}
	require.NoError(t, store.Create(context.Background(), job))
	assert.Equal(t, at, job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_StatusConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM video_jobs`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sending"))
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), "job-1", domain.JobUpdate{
		ExpectStatus: domain.StatusPtr(domain.StatusQueued),
		Status:       domain.StatusPtr(domain.StatusSending),
	})
	assert.ErrorIs(t, err, domain.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_RecordsTransition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM video_jobs`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sending"))
	mock.ExpectQuery(`UPDATE video_jobs SET status = \$1, request_message_id = COALESCE`).
		WithArgs("waiting_video", int64(100), "job-1").
		WillReturnRows(jobRow("job-1", domain.StatusWaitingVideo, int64(100), nil))
	mock.ExpectExec(`INSERT INTO job_events`).
		WithArgs("job-1", "sending", "waiting_video", "prompt sent").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	job, err := store.Update(context.Background(), "job-1", domain.JobUpdate{
		ExpectStatus:     domain.StatusPtr(domain.StatusSending),
		Status:           domain.StatusPtr(domain.StatusWaitingVideo),
		RequestMessageID: domain.Int64Ptr(100),
		Note:             "prompt sent",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingVideo, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_NoEventWithoutStatusChange(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM video_jobs`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("error"))
	mock.ExpectQuery(`UPDATE video_jobs SET error_message = \$1`).
		WithArgs("boom", "job-1").
		WillReturnRows(jobRow("job-1", domain.StatusError, nil, nil))
	mock.ExpectCommit()

	_, err := store.Update(context.Background(), "job-1", domain.JobUpdate{ErrorMessage: domain.StringPtr("boom")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimVideoMessage(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "claims unheld message",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT status FROM video_jobs`).
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("waiting_video"))
				mock.ExpectQuery(`SELECT job_id FROM video_jobs WHERE video_message_id`).
					WithArgs(int64(500)).
					WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
				mock.ExpectQuery(`UPDATE video_jobs\s+SET video_message_id`).
					WithArgs(int64(500), "downloading", "job-1").
					WillReturnRows(jobRow("job-1", domain.StatusDownloading, int64(100), int64(500)))
				mock.ExpectExec(`INSERT INTO job_events`).
					WithArgs("job-1", "waiting_video", "downloading", "claimed video message 500").
					WillReturnResult(sqlmock.NewResult(3, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "message held by another job",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT status FROM video_jobs`).
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("waiting_video"))
				mock.ExpectQuery(`SELECT job_id FROM video_jobs WHERE video_message_id`).
					WithArgs(int64(500)).
					WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow("job-2"))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrVideoAlreadyClaimed,
		},
		{
			name: "message released by a retried job",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT status FROM video_jobs`).
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("waiting_video"))
				mock.ExpectQuery(`SELECT job_id FROM video_jobs WHERE video_message_id = \$1\s+UNION ALL\s+SELECT job_id FROM released_video_claims`).
					WithArgs(int64(500)).
					WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow("job-0"))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrVideoAlreadyClaimed,
		},
		{
			name: "unique index rejects a racing claim",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT status FROM video_jobs`).
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("waiting_video"))
				mock.ExpectQuery(`SELECT job_id FROM video_jobs WHERE video_message_id`).
					WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
				mock.ExpectQuery(`UPDATE video_jobs\s+SET video_message_id`).
					WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
				mock.ExpectRollback()
			},
			wantErr: domain.ErrVideoAlreadyClaimed,
		},
		{
			name: "job no longer waiting",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT status FROM video_jobs`).
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("error"))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrStatusConflict,
		},
		{
			name: "unknown job",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT status FROM video_jobs`).
					WillReturnRows(sqlmock.NewRows([]string{"status"}))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			job, err := store.ClaimVideoMessage(context.Background(), "job-1", 500)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, job)
			} else {
				require.NoError(t, err)
				assert.Equal(t, domain.StatusDownloading, job.Status)
				require.NotNil(t, job.VideoMessageID)
				assert.Equal(t, int64(500), *job.VideoMessageID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_ResetForRetry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM video_jobs`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("error"))
	mock.ExpectExec(`INSERT INTO released_video_claims \(video_message_id, job_id\)\s+SELECT video_message_id, job_id FROM video_jobs`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE video_jobs\s+SET status = \$1,\s+request_message_id = NULL`).
		WithArgs("queued", "job-1").
		WillReturnRows(jobRow("job-1", domain.StatusQueued, nil, nil))
	mock.ExpectExec(`INSERT INTO job_events`).
		WithArgs("job-1", "error", "queued", "retry").
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectCommit()

	job, err := store.ResetForRetry(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Nil(t, job.RequestMessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetForRetry_ReleaseFails(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM video_jobs`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("error"))
	mock.ExpectExec(`INSERT INTO released_video_claims`).
		WithArgs("job-1").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	job, err := store.ResetForRetry(context.Background(), "job-1")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM video_jobs`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteCascade(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM job_events`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(`DELETE FROM video_jobs`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteCascade(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	cursorAt := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT job_id, prompt, status .* FROM video_jobs WHERE status = ANY\(\$1\) AND \(created_at, job_id\) < \(\$2, \$3\) ORDER BY created_at DESC, job_id DESC LIMIT \$4`).
		WithArgs(sqlmock.AnyArg(), cursorAt, "job-9", 2).
		WillReturnRows(jobRow("job-1", domain.StatusReady, int64(1), int64(2)))

	jobs, err := store.List(context.Background(), ListFilter{
		Statuses: []domain.Status{domain.StatusReady},
		PageSize: 2,
		Cursor:   &JobCursor{CreatedAt: cursorAt, JobID: "job-9"},
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountActive(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM video_jobs WHERE status = ANY`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimedVideoMessageIDs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT job_id, video_message_id FROM video_jobs WHERE video_message_id IS NOT NULL\s+UNION ALL\s+SELECT job_id, video_message_id FROM released_video_claims`).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "video_message_id"}).
			AddRow("job-1", int64(500)).
			AddRow("job-2", int64(501)).
			AddRow("job-1", int64(42)))

	claimed, err := store.ClaimedVideoMessageIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{500: "job-1", 501: "job-2", 42: "job-1"}, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Events(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, job_id, from_status, to_status, message, created_at\s+FROM job_events`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_id", "from_status", "to_status", "message", "created_at"}).
			AddRow(int64(1), "job-1", "", "queued", "created", at).
			AddRow(int64(2), "job-1", "queued", "sending", "", at))

	events, err := store.Events(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.StatusSending, events[1].ToStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
