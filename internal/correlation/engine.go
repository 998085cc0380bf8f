// Package correlation finds the agent's video reply to a job in the chat history.
package correlation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/videogen/internal/chat"
	"github.com/cuongbtq/videogen/internal/domain"
	"github.com/cuongbtq/videogen/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cuongbtq/videogen/internal/correlation"

const (
	DefaultHistoryLimit  = 50
	DefaultPollInterval  = 5 * time.Second
	DefaultRecencyWindow = 20 * time.Minute
	DefaultMaxWait       = 15 * time.Minute
)

// History is the read side of the chat transport
type History interface {
	ListRecent(ctx context.Context, peer chat.Peer, limit int) ([]chat.Message, error)
	ResolveIdentity(ctx context.Context, peer chat.Peer) (int64, error)
}

// ClaimSource returns every video message id already attributed to a job,
// mapped to the owning job id. It is read on every poll cycle.
type ClaimSource interface {
	ClaimedVideoMessageIDs(ctx context.Context) (map[int64]string, error)
}

// Config holds the polling tunables
type Config struct {
	HistoryLimit  int
	PollInterval  time.Duration
	RecencyWindow time.Duration
	MaxWait       time.Duration
}

// Engine polls a peer's history until the reply for a job shows up
type Engine struct {
	history History
	claims  ClaimSource
	config  Config
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	polls   metric.Int64Counter
	matches metric.Int64Counter
}

// Option customises an Engine
type Option func(*Engine)

// WithClock replaces the wall clock and the sleep between polls
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.now = now
		e.sleep = sleep
	}
}

// New creates an Engine. Zero config values fall back to the defaults.
func New(history History, claims ClaimSource, config Config, logger *slog.Logger, opts ...Option) *Engine {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RecencyWindow <= 0 {
		config.RecencyWindow = DefaultRecencyWindow
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultMaxWait
	}
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(instrumentationName)
	e := &Engine{
		history: history,
		claims:  claims,
		config:  config,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
		polls:   observability.Counter(meter, "videogen_correlation_polls_total", "Chat history polls made while waiting for a reply"),
		matches: observability.Counter(meter, "videogen_correlation_matches_total", "Replies accepted, by strategy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.config
}

// Wait polls peer until a video reply for req is accepted or req.MaxWait elapses.
// Transient transport and store errors are logged and the cycle is skipped;
// ErrAuthentication and context cancellation end the wait immediately.
func (e *Engine) Wait(ctx context.Context, peer chat.Peer, req Request) (*chat.Message, Strategy, error) {
	maxWait := req.MaxWait
	if maxWait <= 0 {
		maxWait = e.config.MaxWait
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "correlation.wait",
		trace.WithAttributes(
			attribute.String("job.id", req.JobID),
			attribute.String("job.correlation_mode", string(req.Mode)),
			attribute.Int64("job.request_message_id", req.RequestMessageID),
		),
	)
	defer span.End()

	log := e.logger.With(slog.String("job_id", req.JobID))
	start := e.now()
	polls := 0

	for {
		elapsed := e.now().Sub(start)
		if elapsed >= maxWait {
			err := &domain.NoMatchTimeoutError{JobID: req.JobID, Elapsed: elapsed, Polls: polls}
			span.RecordError(err)
			log.Warn("No video reply within wait budget",
				slog.Duration("elapsed", elapsed),
				slog.Int("polls", polls),
			)
			return nil, StrategyNone, err
		}

		polls++
		e.polls.Add(ctx, 1)

		msg, strategy, err := e.poll(ctx, log, peer, req)
		if err != nil {
			span.RecordError(err)
			return nil, StrategyNone, err
		}
		if msg != nil {
			e.matches.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", string(strategy))))
			span.SetAttributes(
				attribute.String("correlation.strategy", string(strategy)),
				attribute.Int64("correlation.message_id", msg.ID),
				attribute.Int("correlation.polls", polls),
			)
			log.Info("Video reply matched",
				slog.Int64("message_id", msg.ID),
				slog.String("strategy", string(strategy)),
				slog.Int("polls", polls),
			)
			return msg, strategy, nil
		}

		remaining := maxWait - e.now().Sub(start)
		if remaining <= 0 {
			continue
		}
		if err := e.sleep(ctx, min(e.config.PollInterval, remaining)); err != nil {
			return nil, StrategyNone, err
		}
	}
}

// poll runs a single cycle. A nil message with a nil error means "nothing yet".
func (e *Engine) poll(ctx context.Context, log *slog.Logger, peer chat.Peer, req Request) (*chat.Message, Strategy, error) {
	msgs, err := e.history.ListRecent(ctx, peer, e.config.HistoryLimit)
	if err != nil {
		if fatal(ctx, err) {
			return nil, StrategyNone, err
		}
		log.Warn("Failed to list chat history, retrying next poll",
			slog.String("error", err.Error()),
		)
		return nil, StrategyNone, nil
	}

	// Claims are re-read every cycle: other jobs may claim replies while this one waits.
	claimed, err := e.claims.ClaimedVideoMessageIDs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, StrategyNone, ctx.Err()
		}
		log.Warn("Failed to read claimed message ids, skipping poll",
			slog.String("error", err.Error()),
		)
		return nil, StrategyNone, nil
	}

	var agent Identity
	id, err := e.history.ResolveIdentity(ctx, peer)
	switch {
	case err == nil:
		agent = Identity{ID: id, Known: true}
	case fatal(ctx, err):
		return nil, StrategyNone, err
	default:
		log.Warn("Agent identity unavailable, not filtering by sender",
			slog.String("peer", string(peer)),
			slog.String("error", err.Error()),
		)
	}

	msg, strategy := Match(msgs, agent, claimed, req, e.now(), e.config.RecencyWindow)
	if msg != nil {
		// copy out of the candidates slice
		found := *msg
		return &found, strategy, nil
	}

	log.Debug("No matching reply yet",
		slog.Int("messages", len(msgs)),
		slog.Int("claimed", len(claimed)),
	)
	return nil, StrategyNone, nil
}

func fatal(ctx context.Context, err error) bool {
	if errors.Is(err, domain.ErrAuthentication) {
		return true
	}
	return ctx.Err() != nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
