// Package policy evaluates OIDC claim values against operator-configured
// policy strings. A policy string is a list of alternatives separated by
// ", " (comma followed by space); each alternative is either a literal or a
// glob pattern where "*" matches any run of characters. Matching is
// disjunctive across alternatives.
package policy

import "strings"

// listSeparator splits multi-valued policy strings and multi-valued claim
// values. The comma-space pair is load-bearing: a comma without a trailing
// space is part of the value, not a delimiter.
const listSeparator = ", "

// ParseList splits a policy string into its alternatives. An empty string
// yields no alternatives.
func ParseList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSeparator)
}

// JoinList is the inverse of ParseList.
func JoinList(values []string) string {
	return strings.Join(values, listSeparator)
}

// MatchField reports whether a single-valued claim matches any policy
// alternative. An absent (empty) claim value never matches.
func MatchField(value, policy string) bool {
	if value == "" {
		return false
	}
	for _, alt := range ParseList(policy) {
		if matchPattern(value, alt) {
			return true
		}
	}
	return false
}

// MatchClaim evaluates a claim whose token-side value may itself be
// multi-valued: the raw value is split like a policy list and each entry is
// tested against every alternative. First match wins.
func MatchClaim(value any, policy string) bool {
	for _, entry := range claimEntries(value) {
		if MatchField(entry, policy) {
			return true
		}
	}
	return false
}

// MatchAudience evaluates the aud claim, which may be a single string or a
// list, against the policy alternatives.
func MatchAudience(aud any, policy string) bool {
	switch v := aud.(type) {
	case string:
		return MatchField(v, policy)
	case []string:
		for _, entry := range v {
			if MatchField(entry, policy) {
				return true
			}
		}
	case []any:
		for _, raw := range v {
			if entry, ok := raw.(string); ok && MatchField(entry, policy) {
				return true
			}
		}
	}
	return false
}

func claimEntries(value any) []string {
	switch v := value.(type) {
	case string:
		return ParseList(v)
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, raw := range v {
			if s, ok := raw.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// matchPattern matches value against a glob pattern. A pattern without "*"
// matches only by exact equality.
func matchPattern(value, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return value == pattern
	}
	segments := strings.Split(pattern, "*")
	if !strings.HasPrefix(value, segments[0]) {
		return false
	}
	value = value[len(segments[0]):]
	last := len(segments) - 1
	for i := 1; i < last; i++ {
		idx := strings.Index(value, segments[i])
		if idx < 0 {
			return false
		}
		value = value[idx+len(segments[i]):]
	}
	return strings.HasSuffix(value, segments[last])
}
