// Package jsonutil looks up fields in JSON response bodies without binding
// them to a schema.
package jsonutil

import (
	"sort"

	"github.com/goccy/go-json"
)

// Extractor finds the first string value stored under a given key, searching
// objects depth-first with keys in sorted order and arrays by index.
type Extractor struct{}

// Extract returns the string stored under field. Malformed or truncated JSON,
// a missing key, or a non-string value all report false.
func (Extractor) Extract(body []byte, field string) (string, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", false
	}
	return find(v, field)
}

func find(v any, field string) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t[field].(string); ok {
			return s, true
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := find(t[k], field); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range t {
			if s, ok := find(item, field); ok {
				return s, true
			}
		}
	}
	return "", false
}
