package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/efektum/mystery-hours/cmd/compressors"
)

const (
	appLogName     = "app.log"
	errLogName     = "err.log"
	logArchiveDir  = "archives"
	componentKey   = "component"
	rotationLayout = "2006-01-02-15-04-05"
)

var ErrUnknownLogLevel = errors.New("unknown log level")

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %s", ErrUnknownLogLevel, level)
	}
}

// textOnlyHandler is a custom slog handler that outputs human-readable text,
// suitable for interactive terminal usage. Attributes bound with With are
// dropped except the component; attributes passed with the record follow
// the message as key=value.
type textOnlyHandler struct {
	opts      slog.HandlerOptions
	writer    io.Writer
	component string
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL [component] message key=value...
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	level := r.Level.String()

	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteByte(' ')
	b.WriteString(level)
	if h.component != "" {
		b.WriteString(" [")
		b.WriteString(h.component)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)

	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, "", a)
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.writer, b.String())
	return err
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, prefix+a.Key+".", ga)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(a.Value.String()))
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// WithAttrs keeps only the component name; other attributes are dropped
// in text-only mode
func (h *textOnlyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	for _, a := range attrs {
		if a.Key == componentKey {
			clone := *h
			clone.component = a.Value.String()
			return &clone
		}
	}
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// errorTeeHandler writes every record to the primary handler and copies
// error records to a second handler
type errorTeeHandler struct {
	primary slog.Handler
	errors  slog.Handler
}

func newErrorTeeHandler(primary, errs slog.Handler) *errorTeeHandler {
	return &errorTeeHandler{primary: primary, errors: errs}
}

func (h *errorTeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.errors.Enabled(ctx, level)
}

func (h *errorTeeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if h.primary.Enabled(ctx, r.Level) {
		errs = append(errs, h.primary.Handle(ctx, r.Clone()))
	}
	if h.errors.Enabled(ctx, r.Level) {
		errs = append(errs, h.errors.Handle(ctx, r))
	}
	return errors.Join(errs...)
}

func (h *errorTeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &errorTeeHandler{primary: h.primary.WithAttrs(attrs), errors: h.errors.WithAttrs(attrs)}
}

func (h *errorTeeHandler) WithGroup(name string) slog.Handler {
	return &errorTeeHandler{primary: h.primary.WithGroup(name), errors: h.errors.WithGroup(name)}
}

// newFormatHandler builds the handler for the configured log format
func newFormatHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "logfmt":
		// logfmt uses slog.TextHandler which outputs key=value pairs
		return slog.NewTextHandler(w, opts)
	default: // "text" or anything else
		return newTextOnlyHandler(w, opts)
	}
}

type logFiles struct {
	app  *os.File
	errs *os.File
}

func (f *logFiles) Close() error {
	return errors.Join(f.app.Close(), f.errs.Close())
}

// rotateLog compresses path into archiveDir once it is larger than maxBytes
// and removes the original
func rotateLog(path, archiveDir string, maxBytes int64, level int, now time.Time) error {
	if maxBytes <= 0 {
		return nil
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= maxBytes {
		return nil
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log archive directory: %w", err)
	}
	target := filepath.Join(archiveDir, filepath.Base(path)+"."+now.Format(rotationLayout)+compressors.GzipExtension)
	if err := compressors.GzipFile(path, target, level); err != nil {
		return err
	}
	return os.Remove(path)
}

func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// initLogger sets the package logger. Records go to console (when not nil)
// and to app.log; errors are also copied to err.log. The returned closer
// closes both files.
func initLogger(config *Config, console io.Writer) (io.Closer, error) {
	level, err := parseLogLevel(config.Log.Level)
	if err != nil {
		return nil, err
	}
	if config.Debug {
		level = slog.LevelDebug
	}

	if err := os.MkdirAll(config.Log.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	archiveDir := filepath.Join(config.Log.Dir, logArchiveDir)
	now := time.Now()
	for _, name := range []string{appLogName, errLogName} {
		path := filepath.Join(config.Log.Dir, name)
		if err := rotateLog(path, archiveDir, int64(config.Log.MaxSizeMB)<<20, config.Log.CompressionLevel, now); err != nil {
			return nil, fmt.Errorf("failed to rotate %s: %w", name, err)
		}
	}

	app, err := openLogFile(filepath.Join(config.Log.Dir, appLogName))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", appLogName, err)
	}
	errs, err := openLogFile(filepath.Join(config.Log.Dir, errLogName))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open %s: %w", errLogName, err)
	}

	var out io.Writer = app
	if console != nil {
		out = io.MultiWriter(console, app)
	}

	handler := newFormatHandler(config.LogFormat, out, &slog.HandlerOptions{Level: level})
	errHandler := slog.NewTextHandler(errs, &slog.HandlerOptions{Level: slog.LevelError})
	logger = slog.New(newErrorTeeHandler(handler, errHandler))

	return &logFiles{app: app, errs: errs}, nil
}

// componentLogger returns a child logger tagged with a component name
func componentLogger(base *slog.Logger, name string) *slog.Logger {
	return base.With(slog.String(componentKey, name))
}
