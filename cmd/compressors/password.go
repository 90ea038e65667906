package compressors

import (
	"fmt"
	"strings"
)

// DefaultPasswordPrefix is the literal tag recipients expect in front of the year
const DefaultPasswordPrefix = "TMPL"

// Password derives the archive password shared with recipients: the prefix
// followed by the four-digit year with every "2" replaced by "@".
func Password(prefix string, year int) string {
	return prefix + strings.ReplaceAll(fmt.Sprintf("%04d", year), "2", "@")
}
