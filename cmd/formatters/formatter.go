package formatters

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/efektum/mystery-hours/cmd/reports"
)

// Format type constants
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

const (
	zipMIMEType     = "application/zip"
	defaultMIMEType = "application/octet-stream"
)

// ErrUnsupportedFormat is returned when an unknown output format is requested
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Formatter defines the interface for spreadsheet output handlers
type Formatter interface {
	// Format serializes a query result, header row first, in column order
	Format(table *reports.Table) ([]byte, error)

	// Extension returns the file extension for this format (e.g., ".xlsx", ".csv")
	Extension() string

	// MIMEType returns the MIME type for this format
	MIMEType() string
}

// GetFormatter returns the formatter for the format string
func GetFormatter(format string) (Formatter, error) {
	switch format {
	case FormatXLSX, "":
		return NewXLSXFormatter(DefaultSheetName), nil
	case FormatCSV:
		return NewCSVFormatter(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// ContentType returns the MIME type of a delivered file by its extension:
// the formatter's type for report files, zip for archives
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for _, format := range []string{FormatXLSX, FormatCSV} {
		if f, err := GetFormatter(format); err == nil && f.Extension() == ext {
			return f.MIMEType()
		}
	}
	if ext == ".zip" {
		return zipMIMEType
	}
	return defaultMIMEType
}
