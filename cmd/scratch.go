package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// scratch is the working directory for one run. Every file a run creates
// lives here and is purged by Release.
type scratch struct {
	dir      string
	logger   *slog.Logger
	released bool
}

// newScratch creates dir if needed and clears anything a previous run left
// behind. Callers must defer Release.
func newScratch(dir string, logger *slog.Logger) (*scratch, error) {
	s := &scratch{dir: dir, logger: logger}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	if err := s.purge(); err != nil {
		logger.Warn(fmt.Sprintf("⚠️  Leftover files in %s could not be removed", dir), "error", err)
	}
	return s, nil
}

// Release removes every entry and leaves the directory in place, empty.
// Only the first call does any work.
func (s *scratch) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	return s.purge()
}

func (s *scratch) purge() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to list scratch directory: %w", err)
	}

	var errs []error
	for _, e := range entries {
		path := filepath.Join(s.dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn(fmt.Sprintf("⚠️  Failed to remove %s", path), "error", err)
			errs = append(errs, err)
			continue
		}
		s.logger.Debug(fmt.Sprintf("Removed %s", path))
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		errs = append(errs, fmt.Errorf("failed to recreate scratch directory: %w", err))
	}
	return errors.Join(errs...)
}
