// Package match provides glob matching for repository entry names.
//
// Patterns use doublestar syntax (*, ?, [...], {...}, ** across separators).
// The package also derives the longest literal prefix of a pattern, which
// storage drivers use to narrow server-side listing queries. The prefix is
// only an optimization: the store may still return non-matching entries, so
// callers always apply Match to the results.
package match

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Match reports whether name matches pattern. An empty pattern matches
// everything. A malformed pattern matches nothing.
func Match(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// IsPattern reports whether pattern contains unescaped glob metacharacters.
// Escaped metacharacters (\*, \?, \[, \{) are literals, not globs.
func IsPattern(pattern string) bool {
	return firstMeta(pattern) != -1
}

// DerivePrefix extracts the longest literal prefix from a glob pattern.
//
// The prefix ends at the first unescaped glob metacharacter, truncated to
// the last complete /-separated segment so that a partial segment like
// "backup/2024-" does not over-narrow the query. Escape backslashes are
// removed from the result, since store keys are opaque strings.
//
// Examples:
//
//	"backup/20240101*/**"  → "backup/"
//	"archive/**/*.gz"      → "archive/"
//	"backup.info"          → "backup.info"
//	"*.info"               → ""
func DerivePrefix(pattern string) string {
	if pattern == "" {
		return ""
	}

	meta := firstMeta(pattern)
	if meta == -1 {
		// No globs at all: the pattern is an exact name.
		return unescape(pattern)
	}
	if meta == 0 {
		return ""
	}

	prefix := pattern[:meta]

	// Truncate to the last complete segment.
	if slash := strings.LastIndex(prefix, "/"); slash >= 0 {
		return unescape(prefix[:slash+1])
	}
	return ""
}

// firstMeta returns the index of the first unescaped glob metacharacter in
// pattern, or -1 if there is none.
func firstMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]

		if c == '\\' && i+1 < len(pattern) {
			next := pattern[i+1]
			if next == '*' || next == '?' || next == '[' || next == '{' || next == '\\' {
				i++ // escaped metacharacter, skip it
			}
			continue
		}

		if c == '*' || c == '?' || c == '[' || c == '{' {
			return i
		}
	}
	return -1
}

// unescape removes escape backslashes so the prefix matches raw store keys.
func unescape(prefix string) string {
	if !strings.ContainsRune(prefix, '\\') {
		return prefix
	}

	var out strings.Builder
	out.Grow(len(prefix))

	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '\\' && i+1 < len(prefix) {
			next := prefix[i+1]
			if next == '*' || next == '?' || next == '[' || next == ']' ||
				next == '{' || next == '}' || next == '\\' {
				out.WriteByte(next)
				i++
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.String()
}
