package reports

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractQuery returns the SQL carried in the value attribute of the first
// <query> element of a stored definition. When there is no such element, no
// value attribute, an empty value, or the markup cannot be parsed, the raw
// text is returned unchanged and ok is false.
func ExtractQuery(raw string) (query string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw, false
	}

	value, exists := doc.Find("query").First().Attr("value")
	// A blank value falls back to the raw text instead of an empty query
	if !exists || strings.TrimSpace(value) == "" {
		return raw, false
	}

	return value, true
}
