// Package keymatch implements glob-style key pattern matching for cache
// invalidation and key listing beyond plain prefix matching.
//
//   - Exact: "user:123" matches only "user:123"
//   - Prefix glob: "users:*" matches any key starting with "users:"
//   - Interior wildcard: "user:*:profile" matches "user:123:profile"
//   - Single-char wildcard: "user:?" matches "user:1" but not "user:12"
//
// Prefix globs take a fast path; anything else compiles to a cached regex.
package keymatch

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// regexCache holds compiled patterns keyed by the caller's pattern string,
// so a repeated InvalidateByPattern/KeysMatching call on a hot pattern skips
// recompiling.
var regexCache sync.Map

// Match reports whether key satisfies pattern.
func Match(pattern, key string) (bool, error) {
	if pattern == "" {
		return false, fmt.Errorf("keymatch: pattern cannot be empty")
	}

	if pattern == key || pattern == "*" {
		return true, nil
	}

	if prefix, ok := asPrefixGlob(pattern); ok {
		return strings.HasPrefix(key, prefix), nil
	}

	re, err := compiled(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(key), nil
}

// Filter returns the subset of keys matching pattern.
func Filter(pattern string, keys []string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("keymatch: pattern cannot be empty")
	}

	if pattern == "*" {
		result := make([]string, len(keys))
		copy(result, keys)
		return result, nil
	}

	if prefix, ok := asPrefixGlob(pattern); ok {
		result := make([]string, 0, len(keys))
		for _, key := range keys {
			if strings.HasPrefix(key, prefix) {
				result = append(result, key)
			}
		}
		return result, nil
	}

	re, err := compiled(pattern)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		if re.MatchString(key) {
			result = append(result, key)
		}
	}
	return result, nil
}

// asPrefixGlob recognizes the single-trailing-star case ("foo*") that
// InvalidateByPrefix already serves in O(1) per key, so callers can skip
// regex entirely for the common case.
func asPrefixGlob(pattern string) (prefix string, ok bool) {
	if !strings.HasSuffix(pattern, "*") {
		return "", false
	}
	body := pattern[:len(pattern)-1]
	if strings.ContainsAny(body, "*?") {
		return "", false
	}
	return body, true
}

// compiled resolves pattern to a compiled regex. A pattern containing glob
// metacharacters is lowered via globToRegex first; anything else is treated
// as a regex already, so a caller can pass "user:[0-9]+" straight through.
func compiled(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	regexPattern := pattern
	if strings.ContainsAny(pattern, "*?") {
		regexPattern = globToRegex(pattern)
	}

	re, err := regexp.Compile("^" + regexPattern + "$")
	if err != nil {
		return nil, fmt.Errorf("keymatch: invalid pattern %q: %w", pattern, err)
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// globToRegex lowers a glob ('*' any run, '?' one char) to its regex form,
// escaping every other regex metacharacter so literal dots/brackets in key
// names (common in "a.b.c" or "{tenant}" style keys) match literally.
func globToRegex(pattern string) string {
	var out strings.Builder
	out.Grow(len(pattern) * 2)

	for i := 0; i < len(pattern); i++ {
		switch ch := pattern[i]; ch {
		case '*':
			out.WriteString(".*")
		case '?':
			out.WriteByte('.')
		case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
			out.WriteByte('\\')
			out.WriteByte(ch)
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}
