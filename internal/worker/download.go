package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cuongbtq/videogen/internal/chat"
	"github.com/cuongbtq/videogen/internal/domain"
)

var transferModes = []chat.TransferMode{chat.TransferParallel, chat.TransferSequential}

// fetch downloads msg to <download_dir>/<jobID>.mp4, falling back to the
// sequential mode when the parallel one fails
func (c *Controller) fetch(ctx context.Context, log *slog.Logger, jobID string, msg chat.Message) (string, int64, chat.TransferMode, error) {
	if err := os.MkdirAll(c.config.DownloadDir, 0o755); err != nil {
		return "", 0, 0, fmt.Errorf("failed to create download directory: %w", err)
	}
	dest := filepath.Join(c.config.DownloadDir, jobID+".mp4")

	var errs []error
	for _, mode := range transferModes {
		n, err := c.fetchWith(ctx, jobID, msg, dest, mode)
		if err == nil {
			c.downloaded.Add(ctx, n, metric.WithAttributes(attribute.String("mode", mode.String())))
			log.Info("Video downloaded",
				slog.String("path", dest),
				slog.Int64("bytes", n),
				slog.String("mode", mode.String()),
			)
			return dest, n, mode, nil
		}
		if ctx.Err() != nil {
			return "", 0, mode, err
		}

		log.Warn("Video download failed",
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()),
		)
		errs = append(errs, err)
	}

	return "", 0, 0, fmt.Errorf("all transfer modes failed: %w", errors.Join(errs...))
}

// fetchWith writes into a temp file and renames it into place only when it is non-empty
func (c *Controller) fetchWith(ctx context.Context, jobID string, msg chat.Message, dest string, mode chat.TransferMode) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+jobID+"-*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := c.transport.Download(ctx, msg, tmp, mode)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%s transfer: %w", mode, domain.ErrEmptyPayload)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("failed to move download into place: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to stat download: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(dest)
		return 0, fmt.Errorf("%s transfer: %w", mode, domain.ErrEmptyPayload)
	}
	return info.Size(), nil
}
