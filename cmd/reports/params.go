package reports

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnboundParameter is returned when a query references a :name that has no value.
var ErrUnboundParameter = errors.New("unbound query parameter")

// PlaceholderStyle is the positional placeholder syntax a database driver expects.
type PlaceholderStyle int

const (
	// Dollar produces $1, $2, ... (PostgreSQL drivers).
	Dollar PlaceholderStyle = iota
	// Question produces ? (MySQL, SQLite).
	Question
)

// StyleForDriver returns the placeholder style for a database/sql driver name.
func StyleForDriver(driver string) PlaceholderStyle {
	switch driver {
	case "postgres", "pgx":
		return Dollar
	default:
		return Question
	}
}

// BindNamed rewrites :name placeholders into the driver's positional style and
// returns the matching argument list.
//
// Quoted literals, quoted identifiers and comments are copied untouched, as
// are PostgreSQL :: casts. A backslash-escaped \: yields a literal colon.
// With Dollar style a repeated name reuses its first index.
func BindNamed(query string, params map[string]any, style PlaceholderStyle) (string, []any, error) {
	var b strings.Builder
	b.Grow(len(query))

	var args []any
	positions := make(map[string]int)

	n := len(query)
	for i := 0; i < n; {
		c := query[i]
		var next byte
		if i+1 < n {
			next = query[i+1]
		}

		switch {
		case c == '\'' || c == '"':
			end := skipQuoted(query, i)
			b.WriteString(query[i:end])
			i = end

		case c == '-' && next == '-':
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = n
			} else {
				end += i
			}
			b.WriteString(query[i:end])
			i = end

		case c == '/' && next == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				end = n
			} else {
				end += i + 4
			}
			b.WriteString(query[i:end])
			i = end

		case c == '\\' && next == ':':
			b.WriteByte(':')
			i += 2

		case c == ':' && next == ':':
			b.WriteString("::")
			i += 2

		case c == ':' && isIdentStart(next) && (i == 0 || !isIdentChar(query[i-1])):
			j := i + 1
			for j < n && isIdentChar(query[j]) {
				j++
			}
			name := query[i+1 : j]

			value, ok := params[name]
			if !ok {
				return "", nil, fmt.Errorf("%w: %s", ErrUnboundParameter, name)
			}

			switch style {
			case Dollar:
				pos, seen := positions[name]
				if !seen {
					args = append(args, value)
					pos = len(args)
					positions[name] = pos
				}
				b.WriteByte('$')
				b.WriteString(strconv.Itoa(pos))
			default:
				args = append(args, value)
				b.WriteByte('?')
			}
			i = j

		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String(), args, nil
}

// skipQuoted returns the index just past the quoted run starting at start.
// A doubled quote character inside the run is an escaped quote.
func skipQuoted(s string, start int) int {
	quote := s[start]
	for i := start + 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
