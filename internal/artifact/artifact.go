// Package artifact hands approved videos off to long-term storage.
package artifact

import (
	"context"
	"path"
)

// Uploader stores the local file of an approved job and returns where it went
type Uploader interface {
	Upload(ctx context.Context, jobID, localPath string) (string, error)
}

// ObjectKey is the storage key for a job's video under prefix
func ObjectKey(prefix, jobID string) string {
	return path.Join(prefix, jobID+".mp4")
}
