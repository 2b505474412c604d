package vfs

import (
	"os"
	"strings"
)

// Clean canonicalizes an absolute or relative path against cwd: expands
// a leading "~" against home, resolves relative inputs against cwd,
// and collapses "." / ".." segments. The result never ends in "/"
// unless it is the root.
func Clean(path, cwd, home string) string {
	path = ExpandTilde(path, home)
	if !strings.HasPrefix(path, "/") {
		if cwd == "" {
			cwd = "/"
		}
		path = cwd + "/" + path
	}
	return canonicalize(path)
}

// ExpandTilde replaces a leading "~" with home. "~/x" -> home+"/x";
// any string not starting with a bare "~" or "~/" is returned as-is.
func ExpandTilde(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return home + path[1:]
	}
	return path
}

func canonicalize(path string) string {
	segs := strings.Split(path, "/")
	var out []string
	for _, s := range segs {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	return "/" + strings.Join(out, "/")
}

// Dir returns the canonical parent of an already-clean absolute path.
func Dir(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

// Base returns the final path component.
func Base(path string) string {
	i := strings.LastIndex(path, "/")
	return path[i+1:]
}

// Glob expands an absolute pattern containing *, ?, [...] against the
// directory lister fn. If the pattern has no match, the literal
// pattern is returned, matching shell convention. Results are sorted
// lexically.
func Glob(pattern string, list func(dir string) ([]string, error)) []string {
	return globWithDisplay(pattern, Dir(pattern), list)
}

// GlobRelative expands pattern (absolute or cwd-relative) the same way
// Glob does, but resolves a relative pattern's directory against cwd
// for listing while keeping the *displayed* matches in the same
// relative form the caller wrote: `*.txt` in a relative glob yields
// bare names like "a.txt", not an absolutized path. An absolute
// pattern behaves exactly like Glob.
func GlobRelative(pattern, cwd string, list func(dir string) ([]string, error)) []string {
	if strings.HasPrefix(pattern, "/") {
		return Glob(pattern, list)
	}
	displayDir := Dir(pattern) // "/" (no "/" in pattern) or the relative dir prefix the caller wrote
	listDir := cwd
	if displayDir != "/" {
		listDir = canonicalize(cwd + "/" + displayDir)
	}
	return globWithDisplay(pattern, listDir, list, displayDir)
}

func globWithDisplay(pattern, listDir string, list func(dir string) ([]string, error), displayDir ...string) []string {
	base := Base(pattern)
	if !hasMeta(base) {
		return []string{pattern}
	}
	names, err := list(listDir)
	if err != nil {
		return []string{pattern}
	}
	dir := listDir
	relative := len(displayDir) > 0
	if relative {
		dir = displayDir[0]
	}
	var matches []string
	for _, n := range names {
		ok, _ := matchGlob(base, n)
		if ok {
			switch {
			case relative && dir == "/":
				matches = append(matches, n)
			case dir == "/":
				matches = append(matches, "/"+n)
			default:
				matches = append(matches, dir+"/"+n)
			}
		}
	}
	if len(matches) == 0 {
		return []string{pattern}
	}
	sortStrings(matches)
	return matches
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// matchGlob implements shell-style glob matching (*, ?, [...]) via
// straightforward recursive backtracking; patterns and names here are
// single path components, never more than a few dozen bytes.
func matchGlob(pattern, name string) (bool, error) {
	return globMatch(pattern, name), nil
}

func globMatch(pattern, name string) bool {
	if pattern == "" {
		return name == ""
	}
	switch pattern[0] {
	case '*':
		if globMatch(pattern[1:], name) {
			return true
		}
		for i := 0; i < len(name); i++ {
			if globMatch(pattern[1:], name[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if name == "" {
			return false
		}
		return globMatch(pattern[1:], name[1:])
	case '[':
		if name == "" {
			return false
		}
		j := strings.IndexByte(pattern, ']')
		if j < 0 {
			// No closing bracket: treat '[' as a literal.
			return name[0] == '[' && globMatch(pattern[1:], name[1:])
		}
		set := pattern[1:j]
		if !matchClass(set, rune(name[0])) {
			return false
		}
		return globMatch(pattern[j+1:], name[1:])
	default:
		if name == "" || pattern[0] != name[0] {
			return false
		}
		return globMatch(pattern[1:], name[1:])
	}
}

func matchClass(set string, r rune) bool {
	negate := false
	if strings.HasPrefix(set, "!") || strings.HasPrefix(set, "^") {
		negate = true
		set = set[1:]
	}
	matched := false
	runes := []rune(set)
	for i := 0; i < len(runes); i++ {
		if i+2 < len(runes) && runes[i+1] == '-' {
			if runes[i] <= r && r <= runes[i+2] {
				matched = true
			}
			i += 2
		} else if runes[i] == r {
			matched = true
		}
	}
	return matched != negate
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}

// UserHomeFallback returns os.UserHomeDir() or "/" on error, used only
// by host-facing entry points (cmd/webos), never by VFS internals.
func UserHomeFallback() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return "/"
	}
	return h
}
