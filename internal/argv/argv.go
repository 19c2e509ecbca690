// Package argv splits configured command lines into argument vectors using
// POSIX shell quoting, without any expansion.
package argv

import (
	"errors"
	"strings"
)

// ErrUnterminated is returned for a line ending inside quotes or after a
// trailing backslash.
var ErrUnterminated = errors.New("argv: unterminated quote or escape")

// Split tokenizes line. Unquoted whitespace separates arguments. Single
// quotes keep their content literally. Inside double quotes a backslash
// escapes only $, `, ", \ and newline. Elsewhere it escapes any rune, and a
// backslash-newline joins lines.
func Split(line string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		started bool
		quote   rune
		esc     bool
	)
	flush := func() {
		if started {
			out = append(out, cur.String())
			cur.Reset()
			started = false
		}
	}
	for _, r := range line {
		switch {
		case esc:
			esc = false
			if quote == '"' && !strings.ContainsRune("$`\"\\\n", r) {
				cur.WriteRune('\\')
			}
			if r != '\n' {
				cur.WriteRune(r)
				started = true
			}
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\\':
			esc = true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			started = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if esc || quote != 0 {
		return nil, ErrUnterminated
	}
	flush()
	return out, nil
}

// Command splits line into a program and its arguments, using def for the
// program when line is blank.
func Command(line, def string) (string, []string, error) {
	args, err := Split(line)
	if err != nil {
		return "", nil, err
	}
	if len(args) == 0 {
		return def, nil, nil
	}
	return args[0], args[1:], nil
}
