package shell

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/webos-run/webos/pkg/vfs"
)

// expandWords runs the five expansion stages (tilde, parameter,
// command substitution, glob, word splitting) over every Word of cmd,
// returning the command's per-invocation environment overrides
// (leading assignments, themselves expanded) and its expanded argv.
func (s *Session) expandWords(ctx context.Context, cmd Command) (env map[string]string, argv []string, err error) {
	env = make(map[string]string, len(cmd.Assignments))
	for k, w := range cmd.Assignments {
		v, err := s.expandScalar(ctx, w)
		if err != nil {
			return nil, nil, err
		}
		env[k] = v
	}

	for _, w := range cmd.Words {
		parts, err := s.expandWord(ctx, w)
		if err != nil {
			return nil, nil, err
		}
		argv = append(argv, parts...)
	}
	return env, argv, nil
}

// expandScalar runs stages 1-3 (tilde, parameter, command
// substitution) on a single Word without globbing or splitting,
// used for assignment values, which never split or glob.
func (s *Session) expandScalar(ctx context.Context, w Word) (string, error) {
	if w.Quote == SingleQuoted {
		return w.Text, nil
	}
	text := w.Text
	if w.Quote == Unquoted {
		text = vfs.ExpandTilde(text, s.home)
	}
	return s.expandParamsAndSubst(ctx, text)
}

// expandWord runs all five stages on one Word, returning one or more
// resulting words (more than one only for unquoted glob/split
// results).
func (s *Session) expandWord(ctx context.Context, w Word) ([]string, error) {
	if w.Quote == SingleQuoted {
		return []string{w.Text}, nil
	}

	text := w.Text
	if w.Quote == Unquoted {
		text = vfs.ExpandTilde(text, s.home)
	}

	text, err := s.expandParamsAndSubst(ctx, text)
	if err != nil {
		return nil, err
	}

	if w.Quote == DoubleQuoted {
		return []string{text}, nil
	}

	// Unquoted: glob, then word-split whatever the glob step leaves.
	matches := s.fs.GlobAt(text, s.cwd)
	if len(matches) == 0 {
		matches = []string{text}
	}

	var out []string
	for _, m := range matches {
		out = append(out, strings.Fields(m)...)
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out, nil
}

// expandParamsAndSubst applies stage 2 (parameter expansion) and stage
// 3 (command substitution) left-to-right over text, honoring nested
// `$(…)`.
func (s *Session) expandParamsAndSubst(ctx context.Context, text string) (string, error) {
	var b strings.Builder
	r := []rune(text)
	i := 0
	n := len(r)

	for i < n {
		c := r[i]
		switch {
		case c == '$' && i+1 < n && r[i+1] == '(':
			inner, consumed, err := extractBalanced(r[i+1:], '(', ')')
			if err != nil {
				return "", err
			}
			out, err := s.captureOutput(ctx, inner)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			i += 1 + consumed

		case c == '`':
			j := i + 1
			for j < n && r[j] != '`' {
				j++
			}
			if j >= n {
				return "", fmt.Errorf("shell: unterminated `")
			}
			out, err := s.captureOutput(ctx, string(r[i+1:j]))
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			i = j + 1

		case c == '$' && i+1 < n && r[i+1] == '{':
			j := i + 2
			for j < n && r[j] != '}' {
				j++
			}
			if j >= n {
				return "", fmt.Errorf("shell: unterminated ${")
			}
			name := string(r[i+2 : j])
			b.WriteString(s.lookupParam(name))
			i = j + 1

		case c == '$' && i+1 < n && isParamStart(r[i+1]):
			j := i + 1
			if r[j] >= '0' && r[j] <= '9' {
				for j < n && r[j] >= '0' && r[j] <= '9' {
					j++
				}
			} else if r[j] == '#' || r[j] == '?' || r[j] == '$' {
				j++
			} else {
				for j < n && isIdentRune(r[j]) {
					j++
				}
			}
			name := string(r[i+1 : j])
			b.WriteString(s.lookupParam(name))
			i = j

		default:
			b.WriteRune(c)
			i++
		}
	}
	return b.String(), nil
}

func isParamStart(r rune) bool {
	return r == '_' || r == '#' || r == '?' || r == '$' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// lookupParam resolves one parameter name:
// $NAME / positional $0..$9 / $# / $? / $$.
func (s *Session) lookupParam(name string) string {
	switch name {
	case "#":
		return strconv.Itoa(len(s.positional))
	case "?":
		return strconv.Itoa(s.lastExit)
	case "$":
		return strconv.Itoa(int(s.pid))
	}
	if idx, err := strconv.Atoi(name); err == nil {
		if idx == 0 {
			return "shell"
		}
		if idx >= 1 && idx <= len(s.positional) {
			return s.positional[idx-1]
		}
		return ""
	}
	return s.env[name]
}

// extractBalanced consumes a balanced open/close span starting right
// after r[0]==open, returning the inner text and the rune count
// consumed including both delimiters, so nested `$(…)` inside the
// span is preserved verbatim for the recursive sub-shell parse.
func extractBalanced(r []rune, open, close rune) (string, int, error) {
	if len(r) == 0 || r[0] != open {
		return "", 0, fmt.Errorf("shell: expected %q", open)
	}
	depth := 1
	i := 1
	for i < len(r) {
		switch r[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return string(r[1:i]), i + 1, nil
			}
		}
		i++
	}
	return "", 0, fmt.Errorf("shell: unterminated %q", open)
}
