package permission

import (
	"sort"
	"strings"

	"github.com/tidwall/match"
)

// MatchPattern reports whether value matches a bash rule pattern.
//
//   - "*" matches everything
//   - "git *" matches "git" and anything starting with "git "
//   - anything else is a glob where * matches any run and ? one character
func MatchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, " *"); ok {
		return value == prefix || strings.HasPrefix(value, prefix+" ")
	}
	return match.Match(value, pattern)
}

// MatchBash resolves the level for a command against a pattern table.
// An exact key wins; otherwise patterns are tried most specific first
// (longest, then lexical) so the result does not depend on map order.
func MatchBash(command string, patterns map[string]Level) (Level, string, bool) {
	if level, ok := patterns[command]; ok {
		return level, command, true
	}
	for _, pattern := range orderedPatterns(patterns) {
		if MatchPattern(pattern, command) {
			return patterns[pattern], pattern, true
		}
	}
	return "", "", false
}

func orderedPatterns(patterns map[string]Level) []string {
	keys := make([]string, 0, len(patterns))
	for k := range patterns {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
