package vfs

import (
	"fmt"
	"strconv"
	"strings"
)

// PasswdRecord is one line of /etc/passwd:
// username:x:uid:gid:groups,...:home:shell
type PasswdRecord struct {
	Username string
	UID      uint32
	GID      uint32
	Groups   []string
	Home     string
	Shell    string
}

// ParsePasswd parses /etc/passwd content. A missing file (empty
// content) yields an empty user set.
func ParsePasswd(content string) ([]PasswdRecord, error) {
	var out []PasswdRecord
	for i, line := range splitNonEmptyLines(content) {
		fields := strings.Split(line, ":")
		if len(fields) != 7 {
			return nil, fmt.Errorf("vfs: passwd line %d: expected 7 fields, got %d", i+1, len(fields))
		}
		uid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("vfs: passwd line %d: bad uid: %w", i+1, err)
		}
		gid, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("vfs: passwd line %d: bad gid: %w", i+1, err)
		}
		var groups []string
		if fields[4] != "" {
			groups = strings.Split(fields[4], ",")
		}
		out = append(out, PasswdRecord{
			Username: fields[0],
			UID:      uint32(uid),
			GID:      uint32(gid),
			Groups:   groups,
			Home:     fields[5],
			Shell:    fields[6],
		})
	}
	return out, nil
}

// FormatPasswd serializes records back to /etc/passwd text.
func FormatPasswd(records []PasswdRecord) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s:x:%d:%d:%s:%s:%s\n", r.Username, r.UID, r.GID, strings.Join(r.Groups, ","), r.Home, r.Shell)
	}
	return b.String()
}

// ShadowRecord is one line of /etc/shadow: username:hexsha256(password):...
type ShadowRecord struct {
	Username     string
	PasswordHash string
}

// ParseShadow parses /etc/shadow content.
func ParseShadow(content string) ([]ShadowRecord, error) {
	var out []ShadowRecord
	for i, line := range splitNonEmptyLines(content) {
		fields := strings.SplitN(line, ":", 3)
		if len(fields) < 2 {
			return nil, fmt.Errorf("vfs: shadow line %d: expected at least 2 fields", i+1)
		}
		out = append(out, ShadowRecord{Username: fields[0], PasswordHash: fields[1]})
	}
	return out, nil
}

// FormatShadow serializes records back to /etc/shadow text.
func FormatShadow(records []ShadowRecord) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s:%s:\n", r.Username, r.PasswordHash)
	}
	return b.String()
}

// EnvLine is one KEY=VALUE entry from /etc/env.
type EnvLine struct {
	Key, Value string
}

// ParseEnvFile parses /etc/env content, one KEY=VALUE per line.
// Order is preserved.
func ParseEnvFile(content string) []EnvLine {
	var out []EnvLine
	for _, line := range splitNonEmptyLines(content) {
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		out = append(out, EnvLine{Key: line[:idx], Value: line[idx+1:]})
	}
	return out
}

// FormatEnvFile serializes KEY=VALUE lines back to text.
func FormatEnvFile(lines []EnvLine) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s=%s\n", l.Key, l.Value)
	}
	return b.String()
}

// CrontabLine is one non-comment, non-empty line of a crontab file,
// kept with its source line number so scheduler job names and error
// messages can point back at it.
type CrontabLine struct {
	LineNumber int
	Text       string
}

// ParseCrontabFile splits a crontab file into its job lines, skipping
// blank lines and lines beginning with '#'.
func ParseCrontabFile(content string) []CrontabLine {
	var out []CrontabLine
	for i, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, CrontabLine{LineNumber: i + 1, Text: line})
	}
	return out
}

func splitNonEmptyLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
