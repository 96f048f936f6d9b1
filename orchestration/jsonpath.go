package orchestration

import (
	"strings"
)

// Extract resolves a dotted path such as "$.data.items.0.id" against a
// JSON-shaped document. "$" returns the whole document. Maps are indexed by
// key and lists only by non-negative integer segments; anything else, and
// any missing element, yields nil. Extract never fails.
func Extract(doc interface{}, path string) interface{} {
	path = strings.TrimSpace(path)
	if path == "$" {
		return doc
	}

	path = strings.TrimLeft(path, "$.")
	current := doc
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil
			}
			current = next
		case []interface{}:
			idx, ok := listIndex(segment)
			if !ok || idx >= len(node) {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}

		if current == nil {
			return nil
		}
	}
	return current
}

func listIndex(segment string) (int, bool) {
	if segment == "" || len(segment) > 9 {
		return 0, false
	}
	n := 0
	for _, r := range segment {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
