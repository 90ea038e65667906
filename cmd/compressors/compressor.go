package compressors

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// ErrCompressionLevelInvalid is returned for a gzip level outside -2..9
var ErrCompressionLevelInvalid = errors.New("gzip compression level must be between -2 and 9")

// DefaultLevel is the gzip level used when none is configured
const DefaultLevel = gzip.DefaultCompression

// GzipExtension is appended to files written by GzipFile
const GzipExtension = ".gz"

// ValidateLevel reports whether level is accepted by the gzip writer.
// Level 0 stores blocks uncompressed, -2 is Huffman-only.
func ValidateLevel(level int) error {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return fmt.Errorf("%w, got %d", ErrCompressionLevelInvalid, level)
	}
	return nil
}

// GzipFile compresses src into dst at the given level. dst is removed if
// anything fails, src is left untouched.
func GzipFile(src, dst string, level int) error {
	if err := ValidateLevel(level); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if err := gzipTo(out, in, level); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}

func gzipTo(w io.Writer, r io.Reader, level int) error {
	writer, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := io.Copy(writer, r); err != nil {
		writer.Close()
		return fmt.Errorf("failed to compress data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return nil
}
