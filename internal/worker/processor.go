package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/videogen/internal/artifact"
	"github.com/cuongbtq/videogen/internal/chat"
	"github.com/cuongbtq/videogen/internal/correlation"
	"github.com/cuongbtq/videogen/internal/domain"
	"github.com/cuongbtq/videogen/internal/marker"
	"github.com/cuongbtq/videogen/internal/observability"
	"github.com/cuongbtq/videogen/internal/storage"
)

const instrumentationName = "github.com/cuongbtq/videogen/internal/worker"

// sendTimeout bounds sending a prompt and persisting its message id. The pair
// runs detached from shutdown so a sent prompt is never left unrecorded.
const sendTimeout = 30 * time.Second

// ControllerConfig holds the lifecycle settings
type ControllerConfig struct {
	Peer            chat.Peer
	DownloadDir     string
	DownloadTimeout time.Duration
	MaxWait         time.Duration
}

// Controller drives jobs through the lifecycle, persisting every transition
type Controller struct {
	store     storage.JobStore
	transport chat.Transport
	engine    *correlation.Engine
	uploader  artifact.Uploader
	limiter   *rate.Limiter
	config    ControllerConfig
	logger    *slog.Logger
	now       func() time.Time

	transitions metric.Int64Counter
	downloaded  metric.Int64Counter
}

// NewController creates a Controller. A nil limiter means no send-rate limit.
func NewController(
	store storage.JobStore,
	transport chat.Transport,
	engine *correlation.Engine,
	uploader artifact.Uploader,
	limiter *rate.Limiter,
	config ControllerConfig,
	logger *slog.Logger,
) *Controller {
	if config.MaxWait <= 0 {
		config.MaxWait = engine.Config().MaxWait
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	meter := otel.Meter(instrumentationName)
	return &Controller{
		store:       store,
		transport:   transport,
		engine:      engine,
		uploader:    uploader,
		limiter:     limiter,
		config:      config,
		logger:      logger,
		now:         time.Now,
		transitions: observability.Counter(meter, "videogen_job_transitions_total", "Job status transitions, by target status"),
		downloaded:  observability.Counter(meter, "videogen_download_bytes_total", "Video bytes downloaded, by transfer mode"),
	}
}

// Advance drives the job from its persisted state as far as it goes without
// outside input: up to ready, or through uploading once approved.
//
// A canceled ctx leaves the job in its current state and returns a
// RetryableError so the delivery is requeued and the job resumed later.
func (c *Controller) Advance(ctx context.Context, jobID string) error {
	log := c.logger.With(slog.String("job_id", jobID))

	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			log.Warn("Job not found, dropping message")
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	// the reply found while waiting, handed to the download step
	var video *chat.Message

	for {
		var next *domain.Job
		switch job.Status {
		case domain.StatusQueued:
			next, err = c.send(ctx, log, job)
		case domain.StatusSending:
			err = errors.New("interrupted while sending: the prompt may not have reached the agent")
		case domain.StatusWaitingVideo:
			next, video, err = c.wait(ctx, log, job)
		case domain.StatusDownloading:
			next, err = c.download(ctx, log, job, video)
		case domain.StatusUploading:
			next, err = c.upload(ctx, log, job)
		default:
			log.Debug("Job needs no work", slog.String("status", string(job.Status)))
			return nil
		}

		if err != nil {
			if next != nil {
				job = next
			}
			return c.handleFailure(ctx, log, job, err)
		}
		job = next
	}
}

// send posts the prompt and records its message id
func (c *Controller) send(ctx context.Context, log *slog.Logger, job *domain.Job) (*domain.Job, error) {
	ctx, span := c.startSpan(ctx, job, "job.send")
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// only one worker gets past this
	job, err := c.transition(ctx, log, job, domain.StatusSending, domain.JobUpdate{Note: "sending prompt"})
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	text := job.Prompt
	if !job.IsLegacy() {
		text = marker.Embed(job.Prompt, job.JobID)
	}

	msgID, err := c.transport.Send(sendCtx, c.config.Peer, text)
	if err != nil {
		return job, fmt.Errorf("failed to send prompt: %w", err)
	}
	log.Info("Prompt sent", slog.Int64("request_message_id", msgID))

	return c.transition(sendCtx, log, job, domain.StatusWaitingVideo, domain.JobUpdate{
		RequestMessageID: domain.Int64Ptr(msgID),
		Note:             fmt.Sprintf("sent as message %d", msgID),
	})
}

// wait polls for the reply and claims it. A reply claimed first by another job
// is skipped and waiting resumes on what is left of the budget.
func (c *Controller) wait(ctx context.Context, log *slog.Logger, job *domain.Job) (*domain.Job, *chat.Message, error) {
	ctx, span := c.startSpan(ctx, job, "job.wait")
	defer span.End()

	req := correlation.Request{JobID: job.JobID, Mode: job.CorrelationMode}
	if job.RequestMessageID != nil {
		req.RequestMessageID = *job.RequestMessageID
	}

	// the budget counts from when the job entered waiting_video
	started := job.UpdatedAt
	for {
		req.MaxWait = max(c.config.MaxWait-c.now().Sub(started), time.Nanosecond)

		msg, strategy, err := c.engine.Wait(ctx, c.config.Peer, req)
		if err != nil {
			return job, nil, err
		}

		claimed, err := c.store.ClaimVideoMessage(ctx, job.JobID, msg.ID)
		switch {
		case err == nil:
			c.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(domain.StatusDownloading))))
			log.Info("Video reply claimed",
				slog.Int64("video_message_id", msg.ID),
				slog.String("strategy", string(strategy)),
			)
			return claimed, msg, nil
		case errors.Is(err, domain.ErrVideoAlreadyClaimed):
			log.Warn("Video reply taken by another job, waiting on",
				slog.Int64("video_message_id", msg.ID),
			)
			continue
		case errors.Is(err, domain.ErrStatusConflict), errors.Is(err, domain.ErrJobNotFound):
			return job, nil, err
		default:
			return job, nil, &domain.PersistenceError{Op: "video claim", JobID: job.JobID, Err: err}
		}
	}
}

// download fetches the claimed video into the download directory
func (c *Controller) download(ctx context.Context, log *slog.Logger, job *domain.Job, video *chat.Message) (*domain.Job, error) {
	ctx, span := c.startSpan(ctx, job, "job.download")
	defer span.End()

	if job.VideoMessageID == nil {
		return job, errors.New("downloading without a claimed video message")
	}

	if video == nil || video.ID != *job.VideoMessageID {
		found, err := c.findMessage(ctx, *job.VideoMessageID)
		if err != nil {
			return job, err
		}
		video = found
	}

	dlCtx := ctx
	if c.config.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, c.config.DownloadTimeout)
		defer cancel()
	}

	path, n, mode, err := c.fetch(dlCtx, log, job.JobID, *video)
	if err != nil {
		return job, err
	}

	return c.transition(ctx, log, job, domain.StatusReady, domain.JobUpdate{
		LocalArtifactPath: domain.StringPtr(path),
		Note:              fmt.Sprintf("downloaded %d bytes (%s)", n, mode),
	})
}

// upload hands an approved video to the uploader
func (c *Controller) upload(ctx context.Context, log *slog.Logger, job *domain.Job) (*domain.Job, error) {
	ctx, span := c.startSpan(ctx, job, "job.upload")
	defer span.End()

	if job.LocalArtifactPath == "" {
		return job, errors.New("approved job has no local artifact")
	}

	url, err := c.uploader.Upload(ctx, job.JobID, job.LocalArtifactPath)
	if err != nil {
		return job, fmt.Errorf("failed to upload artifact: %w", err)
	}

	return c.transition(ctx, log, job, domain.StatusUploaded, domain.JobUpdate{
		StorageURL: domain.StringPtr(url),
		Note:       "uploaded",
	})
}

// findMessage looks a claimed message up again, after a restart
func (c *Controller) findMessage(ctx context.Context, id int64) (*chat.Message, error) {
	msgs, err := c.transport.ListRecent(ctx, c.config.Peer, c.engine.Config().HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat history: %w", err)
	}
	for i := range msgs {
		if msgs[i].ID == id {
			return &msgs[i], nil
		}
	}
	return nil, fmt.Errorf("video message %d is no longer in the recent history", id)
}

// transition moves job to status "to" with a compare-and-set on its current status
func (c *Controller) transition(ctx context.Context, log *slog.Logger, job *domain.Job, to domain.Status, upd domain.JobUpdate) (*domain.Job, error) {
	if err := domain.ValidateTransition(job.Status, to); err != nil {
		return job, err
	}

	upd.ExpectStatus = domain.StatusPtr(job.Status)
	upd.Status = domain.StatusPtr(to)

	next, err := c.store.Update(ctx, job.JobID, upd)
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) || errors.Is(err, domain.ErrJobNotFound) {
			return job, err
		}
		return job, &domain.PersistenceError{Op: string(to), JobID: job.JobID, Err: err}
	}

	c.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
	log.Info("Job status changed",
		slog.String("from", string(job.Status)),
		slog.String("to", string(to)),
	)
	return next, nil
}

// handleFailure decides what a step error means for the job and the delivery
func (c *Controller) handleFailure(ctx context.Context, log *slog.Logger, job *domain.Job, err error) error {
	switch {
	case ctx.Err() != nil:
		log.Info("Job interrupted, state kept for resume",
			slog.String("status", string(job.Status)),
		)
		return domain.NewRetryableError(err)
	case errors.Is(err, domain.ErrStatusConflict), errors.Is(err, domain.ErrJobNotFound):
		log.Warn("Job changed underneath the worker, stopping",
			slog.String("error", err.Error()),
		)
		return nil
	}

	var persistErr *domain.PersistenceError
	if errors.As(err, &persistErr) {
		log.Error("Failed to persist job state",
			slog.String("op", persistErr.Op),
			slog.String("error", persistErr.Err.Error()),
		)
	}

	log.Error("Job failed",
		slog.String("status", string(job.Status)),
		slog.String("error", err.Error()),
	)

	if job.Status.IsTerminal() {
		return err
	}

	msg := err.Error()
	_, uerr := c.transition(context.WithoutCancel(ctx), log, job, domain.StatusError, domain.JobUpdate{
		ErrorMessage: &msg,
		Note:         fmt.Sprintf("failed while %s", job.Status),
	})
	if uerr != nil {
		log.Error("Failed to record job failure", slog.String("error", uerr.Error()))
	}
	return err
}

func (c *Controller) startSpan(ctx context.Context, job *domain.Job, name string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithAttributes(
			attribute.String("job.id", job.JobID),
			attribute.String("job.status", string(job.Status)),
		),
	)
}
