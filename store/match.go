package store

import "path"

// Match reports whether key matches a Redis-style glob pattern
// (*, ?, [...] and \ escapes). Unlike path.Match, '*' and '?' also match '/'.
// A malformed pattern never matches.
func Match(pattern, key string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if Match(pattern, key[i:]) {
					return true
				}
			}
			return false
		case '?':
			if key == "" {
				return false
			}
			pattern, key = pattern[1:], key[1:]
		case '[', '\\':
			// delegate classes and escapes to path.Match on the single rune
			end := segmentEnd(pattern)
			if key == "" || end < 0 {
				return false
			}
			ok, err := path.Match(pattern[:end], key[:1])
			if err != nil || !ok {
				return false
			}
			pattern, key = pattern[end:], key[1:]
		default:
			if key == "" || pattern[0] != key[0] {
				return false
			}
			pattern, key = pattern[1:], key[1:]
		}
	}
	return key == ""
}

// segmentEnd returns the length of the leading class or escape in pattern.
func segmentEnd(pattern string) int {
	if pattern[0] == '\\' {
		if len(pattern) < 2 {
			return -1
		}
		return 2
	}
	for i := 1; i < len(pattern); i++ {
		if pattern[i] == ']' && i > 1 {
			return i + 1
		}
	}
	return -1
}
