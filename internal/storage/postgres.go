package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/videogen/internal/domain"
)

const jobColumns = `job_id, prompt, status, correlation_mode, request_message_id, video_message_id,
	local_artifact_path, storage_url, error_message, created_at, updated_at`

const uniqueViolation = "23505"

// PostgresStore is the JobStore backed by PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Create inserts the job and its initial transition event
func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO video_jobs (job_id, prompt, status, correlation_mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowxContext(ctx, query, job.JobID, job.Prompt, string(job.Status), string(job.CorrelationMode)).
		Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	if err := insertEvent(ctx, tx, job.JobID, "", job.Status, "created"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job creation: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("correlation_mode", string(job.CorrelationMode)),
	)
	return nil
}

// Get retrieves a job by its ID
func (s *PostgresStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM video_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// Update applies upd under a row lock and records the transition, if any
func (s *PostgresStore) Update(ctx context.Context, jobID string, upd domain.JobUpdate) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := lockStatus(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if upd.ExpectStatus != nil && current != *upd.ExpectStatus {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrStatusConflict, jobID, current, *upd.ExpectStatus)
	}

	var sets []string
	var args []any
	set := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if upd.Status != nil {
		set("status = $%d", string(*upd.Status))
	}
	if upd.RequestMessageID != nil {
		set("request_message_id = COALESCE(request_message_id, $%d)", *upd.RequestMessageID)
	}
	if upd.LocalArtifactPath != nil {
		set("local_artifact_path = $%d", *upd.LocalArtifactPath)
	}
	if upd.StorageURL != nil {
		set("storage_url = $%d", *upd.StorageURL)
	}
	if upd.ErrorMessage != nil {
		set("error_message = $%d", *upd.ErrorMessage)
	}
	sets = append(sets, "updated_at = GREATEST(updated_at, NOW())")
	args = append(args, jobID)

	query := fmt.Sprintf(`UPDATE video_jobs SET %s WHERE job_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), jobColumns)

	var job domain.Job
	if err := tx.QueryRowxContext(ctx, query, args...).StructScan(&job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	if upd.Status != nil && *upd.Status != current {
		if err := insertEvent(ctx, tx, jobID, current, *upd.Status, upd.Note); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return &job, nil
}

// ClaimVideoMessage attributes messageID to the job and moves it to downloading
func (s *PostgresStore) ClaimVideoMessage(ctx context.Context, jobID string, messageID int64) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := lockStatus(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if current != domain.StatusWaitingVideo {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrStatusConflict, jobID, current, domain.StatusWaitingVideo)
	}

	var holder string
	err = tx.GetContext(ctx, &holder, `
		SELECT job_id FROM video_jobs WHERE video_message_id = $1
		UNION ALL
		SELECT job_id FROM released_video_claims WHERE video_message_id = $1
		LIMIT 1`, messageID)
	switch {
	case err == nil:
		s.logger.Warn("Video message already claimed",
			slog.String("job_id", jobID),
			slog.Int64("video_message_id", messageID),
			slog.String("claimed_by", holder),
		)
		return nil, fmt.Errorf("%w: message %d belongs to job %s", domain.ErrVideoAlreadyClaimed, messageID, holder)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to check video claim: %w", err)
	}

	query := `
		UPDATE video_jobs
		SET video_message_id = $1,
		    status = $2,
		    updated_at = GREATEST(updated_at, NOW())
		WHERE job_id = $3
		RETURNING ` + jobColumns

	var job domain.Job
	err = tx.QueryRowxContext(ctx, query, messageID, string(domain.StatusDownloading), jobID).StructScan(&job)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: message %d", domain.ErrVideoAlreadyClaimed, messageID)
		}
		return nil, fmt.Errorf("failed to claim video message: %w", err)
	}

	note := fmt.Sprintf("claimed video message %d", messageID)
	if err := insertEvent(ctx, tx, jobID, current, domain.StatusDownloading, note); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: message %d", domain.ErrVideoAlreadyClaimed, messageID)
		}
		return nil, fmt.Errorf("failed to commit video claim: %w", err)
	}

	s.logger.Info("Video message claimed",
		slog.String("job_id", jobID),
		slog.Int64("video_message_id", messageID),
	)
	return &job, nil
}

// ResetForRetry clears a failed job's message ids and puts it back to queued.
// A video the job had claimed moves to released_video_claims and stays claimed.
func (s *PostgresStore) ResetForRetry(ctx context.Context, jobID string) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := lockStatus(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if current != domain.StatusError {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrStatusConflict, jobID, current, domain.StatusError)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO released_video_claims (video_message_id, job_id)
		SELECT video_message_id, job_id FROM video_jobs
		WHERE job_id = $1 AND video_message_id IS NOT NULL
		ON CONFLICT (video_message_id) DO NOTHING`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to release video claim: %w", err)
	}

	query := `
		UPDATE video_jobs
		SET status = $1,
		    request_message_id = NULL,
		    video_message_id = NULL,
		    local_artifact_path = '',
		    storage_url = '',
		    error_message = '',
		    updated_at = GREATEST(updated_at, NOW())
		WHERE job_id = $2
		RETURNING ` + jobColumns

	var job domain.Job
	if err := tx.QueryRowxContext(ctx, query, string(domain.StatusQueued), jobID).StructScan(&job); err != nil {
		return nil, fmt.Errorf("failed to reset job: %w", err)
	}

	if err := insertEvent(ctx, tx, jobID, current, domain.StatusQueued, "retry"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job reset: %w", err)
	}
	return &job, nil
}

// Delete removes the job row, keeping its events
func (s *PostgresStore) Delete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM video_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return requireAffected(res)
}

// DeleteCascade removes the job row together with its events
func (s *PostgresStore) DeleteCascade(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_events WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete job events: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM video_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job deletion: %w", err)
	}
	return nil
}

// List returns jobs ordered by created_at DESC, job_id DESC
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]domain.Job, error) {
	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(filter.Statuses)))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Cursor != nil {
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		where = append(where, fmt.Sprintf("(created_at, job_id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM video_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, job_id DESC`
	if filter.PageSize > 0 {
		args = append(args, filter.PageSize)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListActive returns every job in a non-terminal status
func (s *PostgresStore) ListActive(ctx context.Context) ([]domain.Job, error) {
	return s.List(ctx, ListFilter{Statuses: domain.ActiveStatuses()})
}

// CountActive counts jobs in a non-terminal status
func (s *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM video_jobs WHERE status = ANY($1)`,
		pq.Array(statusStrings(domain.ActiveStatuses())))
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return n, nil
}

// ClaimedVideoMessageIDs maps every claimed video message id to its job,
// including ids released by a retry
func (s *PostgresStore) ClaimedVideoMessageIDs(ctx context.Context) (map[int64]string, error) {
	var rows []struct {
		JobID          string `db:"job_id"`
		VideoMessageID int64  `db:"video_message_id"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT job_id, video_message_id FROM video_jobs WHERE video_message_id IS NOT NULL
		UNION ALL
		SELECT job_id, video_message_id FROM released_video_claims`)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed video messages: %w", err)
	}

	claimed := make(map[int64]string, len(rows))
	for _, r := range rows {
		claimed[r.VideoMessageID] = r.JobID
	}
	return claimed, nil
}

// Events returns the job's transitions, oldest first
func (s *PostgresStore) Events(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	events := []domain.JobEvent{}
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, job_id, from_status, to_status, message, created_at
		FROM job_events
		WHERE job_id = $1
		ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}
	return events, nil
}

func lockStatus(ctx context.Context, tx *sqlx.Tx, jobID string) (domain.Status, error) {
	var status domain.Status
	err := tx.GetContext(ctx, &status, `SELECT status FROM video_jobs WHERE job_id = $1 FOR UPDATE`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to lock job: %w", err)
	}
	return status, nil
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, jobID string, from, to domain.Status, message string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO job_events (job_id, from_status, to_status, message) VALUES ($1, $2, $3, $4)`,
		jobID, string(from), string(to), message)
	if err != nil {
		return fmt.Errorf("failed to record job event: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
