package cmd

import (
	"strings"
	"time"
)

// DefaultPathTemplate places deliveries under root/year/month/Dodatkowe/MS_Godziny
const DefaultPathTemplate = "{YYYY}/{MM}/Dodatkowe/MS_Godziny"

// PathTemplate turns a "/"-separated template into remote folder names
type PathTemplate struct {
	template string
}

// NewPathTemplate creates a new PathTemplate instance
func NewPathTemplate(template string) *PathTemplate {
	return &PathTemplate{template: template}
}

// Generate replaces placeholders in the template with actual values
// Supports: {YYYY}, {MM}, {DD}
func (pt *PathTemplate) Generate(timestamp time.Time) string {
	result := pt.template

	result = strings.ReplaceAll(result, "{YYYY}", timestamp.Format("2006"))
	result = strings.ReplaceAll(result, "{MM}", timestamp.Format("01"))
	result = strings.ReplaceAll(result, "{DD}", timestamp.Format("02"))

	return result
}

// Segments returns the folder names to walk from the root, in order
func (pt *PathTemplate) Segments(timestamp time.Time) []string {
	generated := strings.Trim(pt.Generate(timestamp), "/")
	if generated == "" {
		return nil
	}

	parts := strings.Split(generated, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		segments = append(segments, strings.TrimSpace(p))
	}
	return segments
}

// isValidPathTemplate rejects empty templates and templates with blank segments
func isValidPathTemplate(template string) bool {
	trimmed := strings.Trim(template, "/")
	if strings.TrimSpace(trimmed) == "" {
		return false
	}
	for _, p := range strings.Split(trimmed, "/") {
		if strings.TrimSpace(p) == "" {
			return false
		}
	}
	return true
}
