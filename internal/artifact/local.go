package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// DirUploader copies videos into a directory. Used when no bucket is configured.
type DirUploader struct {
	dir    string
	logger *slog.Logger
}

// NewDirUploader creates dir if needed
func NewDirUploader(dir string, logger *slog.Logger) (*DirUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &DirUploader{dir: dir, logger: logger}, nil
}

func (u *DirUploader) Upload(ctx context.Context, jobID, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer src.Close()

	dest := filepath.Join(u.dir, ObjectKey("", jobID))
	tmp, err := os.CreateTemp(u.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}

	url := "file://" + dest
	u.logger.Info("Artifact stored",
		slog.String("job_id", jobID),
		slog.String("storage_url", url),
		slog.Int64("bytes", n),
	)
	return url, nil
}
