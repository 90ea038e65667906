package remote

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Uploader pushes local files into one remote folder.
type Uploader struct {
	drive  Drive
	logger *slog.Logger
}

// NewUploader creates an uploader over drive
func NewUploader(drive Drive, logger *slog.Logger) *Uploader {
	return &Uploader{drive: drive, logger: logger}
}

// Upload sends paths one at a time. The first failure stops the call; the
// files uploaded before it are returned along with the error.
func (u *Uploader) Upload(ctx context.Context, paths []string, folderID string) ([]string, error) {
	uploaded := make([]string, 0, len(paths))

	for i, p := range paths {
		name := filepath.Base(p)
		if err := u.drive.UploadFile(ctx, p, folderID); err != nil {
			return uploaded, fmt.Errorf("failed to upload %s (%d of %d): %w", name, i+1, len(paths), err)
		}

		uploaded = append(uploaded, p)
		u.logger.Info(fmt.Sprintf("☁️  Uploaded %s", name))
	}

	return uploaded, nil
}
