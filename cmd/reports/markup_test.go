package reports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractQuery(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{
			name:   "self closing element",
			raw:    `<query value="SELECT 1" />`,
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "entities decoded",
			raw:    `<query value="SELECT * FROM t WHERE a &lt; 5 AND b = &#39;x&#39;"></query>`,
			want:   "SELECT * FROM t WHERE a < 5 AND b = 'x'",
			wantOK: true,
		},
		{
			name:   "mixed case tag and attribute",
			raw:    `<Query Value="SELECT 2"/>`,
			want:   "SELECT 2",
			wantOK: true,
		},
		{
			name:   "nested in other markup",
			raw:    `<definition version="3"><query value="SELECT 3"/></definition>`,
			want:   "SELECT 3",
			wantOK: true,
		},
		{
			name:   "first of multiple tags wins",
			raw:    `<query value="SELECT 4"/><query value="SELECT 5"/>`,
			want:   "SELECT 4",
			wantOK: true,
		},
		{
			name:   "plain sql",
			raw:    "SELECT a FROM t WHERE a<b",
			want:   "SELECT a FROM t WHERE a<b",
			wantOK: false,
		},
		{
			name:   "missing value attribute",
			raw:    `<query>SELECT 1</query>`,
			want:   `<query>SELECT 1</query>`,
			wantOK: false,
		},
		{
			name:   "empty value attribute",
			raw:    `<query value=""/>`,
			want:   `<query value=""/>`,
			wantOK: false,
		},
		{
			name:   "whitespace-only value attribute",
			raw:    `<query value="   "/>`,
			want:   `<query value="   "/>`,
			wantOK: false,
		},
		{
			name:   "unterminated element",
			raw:    `<query value="SELECT 1`,
			want:   `<query value="SELECT 1`,
			wantOK: false,
		},
		{
			name:   "empty text",
			raw:    "",
			want:   "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractQuery(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestExtractQueryFallbackIsStable(t *testing.T) {
	raw := "SELECT name FROM shops"
	first, _ := ExtractQuery(raw)
	second, _ := ExtractQuery(first)
	assert.Equal(t, raw, second)
}
