package ai

import (
	"strings"
)

// extractJSON returns the first complete JSON object in an LLM reply.
// Markdown fences and surrounding prose are ignored. ok is false when the
// reply holds no balanced object.
func extractJSON(content string) (string, bool) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	end := findJSONEnd(s, start)
	if end < 0 {
		return "", false
	}
	return s[start:end], true
}

// findJSONEnd returns the index just past the brace closing the object
// opened at start, or -1.
func findJSONEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// cleanEndpoint reduces a URL rewrite reply to the endpoint itself.
func cleanEndpoint(content string) string {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(strings.TrimSpace(s), "`\"'")
	return strings.TrimSpace(s)
}
