package compressors

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yeka/zip"

	"github.com/efektum/mystery-hours/cmd/clock"
)

// Static errors for archive creation
var (
	ErrNoFiles        = errors.New("no files to archive")
	ErrEmptyPassword  = errors.New("archive password is required")
	ErrDuplicateEntry = errors.New("duplicate file name in archive")
)

// DefaultArchivePrefix names archives MS_Godziny_{timestamp}.zip
const DefaultArchivePrefix = "MS_Godziny"

const timestampLayout = "2006_01_02_15_04_05"

// ZipArchiver bundles files into one AES-256 encrypted zip archive
type ZipArchiver struct {
	dir    string
	prefix string
	clock  clock.Clock
}

// NewZipArchiver creates an archiver writing {prefix}_{timestamp}.zip into dir.
// Entries use the zip package's built-in deflate.
func NewZipArchiver(dir, prefix string, c clock.Clock) *ZipArchiver {
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}

	return &ZipArchiver{dir: dir, prefix: prefix, clock: c}
}

// Archive writes every path into a new archive, stored by base name, and
// returns the archive path. A partially written archive is removed on error.
func (a *ZipArchiver) Archive(paths []string, password string) (string, error) {
	if len(paths) == 0 {
		return "", ErrNoFiles
	}
	if password == "" {
		return "", ErrEmptyPassword
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.zip", a.prefix, a.clock.Now().Format(timestampLayout))
	archivePath := filepath.Join(a.dir, name)

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	if err := a.write(out, paths, password); err != nil {
		out.Close()
		os.Remove(archivePath)
		return "", err
	}

	if err := out.Close(); err != nil {
		os.Remove(archivePath)
		return "", fmt.Errorf("failed to close archive: %w", err)
	}

	return archivePath, nil
}

func (a *ZipArchiver) write(out io.Writer, paths []string, password string) error {
	zw := zip.NewWriter(out)

	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		if seen[base] {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, base)
		}
		seen[base] = true

		if err := addEncrypted(zw, p, base, password); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func addEncrypted(zw *zip.Writer, path, name, password string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	w, err := zw.Encrypt(name, password, zip.AES256Encryption)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to compress %s: %w", name, err)
	}
	return nil
}
