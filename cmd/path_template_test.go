package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPathTemplateSegments(t *testing.T) {
	ts := time.Date(2026, 2, 12, 14, 5, 9, 0, time.UTC)

	tests := []struct {
		name     string
		template string
		expected []string
	}{
		{
			name:     "default template",
			template: DefaultPathTemplate,
			expected: []string{"2026", "02", "Dodatkowe", "MS_Godziny"},
		},
		{
			name:     "day placeholder",
			template: "{YYYY}/{MM}/{DD}",
			expected: []string{"2026", "02", "12"},
		},
		{
			name:     "leading and trailing slashes",
			template: "/Raporty/{YYYY}/",
			expected: []string{"Raporty", "2026"},
		},
		{
			name:     "single static folder",
			template: "Inbox",
			expected: []string{"Inbox"},
		},
		{
			name:     "empty template",
			template: "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewPathTemplate(tt.template).Segments(ts))
		})
	}
}

func TestPathTemplateGenerate(t *testing.T) {
	ts := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025/11/Dodatkowe/MS_Godziny", NewPathTemplate(DefaultPathTemplate).Generate(ts))
	assert.Equal(t, "2025-11-03", NewPathTemplate("{YYYY}-{MM}-{DD}").Generate(ts))
}

func TestIsValidPathTemplate(t *testing.T) {
	tests := []struct {
		template string
		valid    bool
	}{
		{DefaultPathTemplate, true},
		{"Inbox", true},
		{"/{YYYY}/", true},
		{"", false},
		{"/", false},
		{"{YYYY}//{MM}", false},
		{"{YYYY}/ /{MM}", false},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			assert.Equal(t, tt.valid, isValidPathTemplate(tt.template))
		})
	}
}
