// Package extract searches arbitrarily shaped provider responses for an
// embedded media reference. Synchronous providers do not share a response
// schema, so this heuristic is the tolerance mechanism for schema drift.
package extract

import (
	"regexp"
	"sort"
	"strings"
)

var (
	markdownImageRe = regexp.MustCompile(`(?i)!\[.*?\]\((https?://[^\s"'<>)]+)\)`)
	embeddedURLRe   = regexp.MustCompile(`(?i)(https?://[^\s"'<>]+)`)
)

// Keys tried first when searching an object, in priority order.
var priorityKeys = []string{"url", "b64_json", "image", "img", "link", "content", "data"}

// ImageURL searches a decoded JSON value (string, []any, or map[string]any)
// for a plausible image reference and returns the first match. The search is
// depth-first and ordering-sensitive: strings are probed pattern by pattern,
// arrays element by element, objects priority keys first then remaining keys.
func ImageURL(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return fromString(val)
	case []any:
		for _, item := range val {
			if found, ok := ImageURL(item); ok {
				return found, true
			}
		}
		return "", false
	case map[string]any:
		return fromObject(val)
	default:
		return "", false
	}
}

func fromString(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}
	if m := markdownImageRe.FindStringSubmatch(trimmed); m != nil {
		return m[1], true
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		if !strings.Contains(trimmed, " ") {
			return trimmed, true
		}
	}
	if strings.HasPrefix(trimmed, "data:image") {
		return trimmed, true
	}
	if m := embeddedURLRe.FindStringSubmatch(trimmed); m != nil {
		return m[1], true
	}
	return "", false
}

func fromObject(obj map[string]any) (string, bool) {
	for _, key := range priorityKeys {
		if child, ok := obj[key]; ok && child != nil {
			if found, ok := ImageURL(child); ok {
				return found, true
			}
		}
	}
	// Fallback scan over the remaining keys. Go maps have no enumeration
	// order, so sort for a deterministic search.
	keys := make([]string, 0, len(obj))
	for key := range obj {
		if isPriorityKey(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		switch obj[key].(type) {
		case map[string]any, []any, string:
			if found, ok := ImageURL(obj[key]); ok {
				return found, true
			}
		}
	}
	return "", false
}

func isPriorityKey(key string) bool {
	for _, k := range priorityKeys {
		if k == key {
			return true
		}
	}
	return false
}
