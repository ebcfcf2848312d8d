package storage

import (
	"strings"
	"time"
)

const versionLayout = "20060102T150405"

// ObjectName derives the artifact's object name from submitter and expense
// id, so artifacts for the same pair land at a stable, discoverable prefix.
// The UTC timestamp suffix versions the name: repeated exports of edited
// data never collide with or corrupt a prior artifact.
func ObjectName(submitter, expenseID string, at time.Time) string {
	parts := []string{
		sanitizeSegment(submitter),
		sanitizeSegment(expenseID),
		at.UTC().Format(versionLayout),
	}
	return strings.Join(parts, "-") + ".xlsx"
}

// sanitizeSegment keeps object names plain path-like strings: path
// separators and blanks are replaced, empty segments get a placeholder.
func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		" ", "_",
		"#", "_",
		"?", "_",
	)
	return replacer.Replace(s)
}
