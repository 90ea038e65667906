package formatters

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/efektum/mystery-hours/cmd/clock"
	"github.com/efektum/mystery-hours/cmd/reports"
)

// TimestampLayout is the generation timestamp embedded in artifact names
const TimestampLayout = "2006_01_02_15_04_05"

// ErrNotProduced is returned when a result without rows is handed to the writer
var ErrNotProduced = errors.New("report result has no rows to write")

// Artifact is a report file written into the run's scratch directory
type Artifact struct {
	Path       string
	ReportName string
	CreatedAt  time.Time
}

// Writer serializes produced reports into a scratch directory. File names are
// unique for the lifetime of the Writer: a name already taken gets a
// numeric suffix instead of being overwritten.
type Writer struct {
	dir       string
	formatter Formatter
	clock     clock.Clock
	taken     map[string]bool
}

// NewWriter creates a Writer for dir using the given formatter
func NewWriter(dir string, formatter Formatter, c clock.Clock) *Writer {
	return &Writer{
		dir:       dir,
		formatter: formatter,
		clock:     c,
		taken:     make(map[string]bool),
	}
}

// Write serializes a produced result to {name}_{timestamp}{ext}
func (w *Writer) Write(res reports.Result) (Artifact, error) {
	if res.Status != reports.Produced || res.Table.Len() == 0 {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotProduced, res.Name)
	}

	data, err := w.formatter.Format(res.Table)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to format report %s: %w", res.Name, err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("failed to create directory: %w", err)
	}

	createdAt := w.clock.Now()
	base := SanitizeName(res.Name) + "_" + createdAt.Format(TimestampLayout)

	for n := 1; ; n++ {
		name := base
		if n > 1 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		name += w.formatter.Extension()
		if w.taken[name] {
			continue
		}

		path := filepath.Join(w.dir, name)
		err := writeExclusive(path, data)
		if errors.Is(err, os.ErrExist) {
			w.taken[name] = true
			continue
		}
		if err != nil {
			return Artifact{}, fmt.Errorf("failed to write %s: %w", path, err)
		}

		w.taken[name] = true
		return Artifact{Path: path, ReportName: res.Name, CreatedAt: createdAt}, nil
	}
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// SanitizeName makes a report name safe to use as a file name on any
// platform. Characters outside the forbidden set, Polish letters included,
// are kept.
func SanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)

	cleaned = strings.Trim(cleaned, " .")
	if cleaned == "" {
		return "report"
	}
	return cleaned
}
