package transform

import (
	"fmt"
	"strings"
)

// Record is one source-system metadata record.
type Record map[string]any

// String returns the trimmed string form of key, or "" when absent.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// List returns key as a slice. A scalar becomes a one-element slice.
func (r Record) List(key string) []any {
	return asList(r[key])
}

func asList(v any) []any {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// Strings returns the non-empty string elements of key.
func (r Record) Strings(key string) []string {
	return asStrings(r[key])
}

func asStrings(v any) []string {
	var out []string
	for _, e := range asList(v) {
		if e == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(e)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Records returns the object elements of key.
func (r Record) Records(key string) []Record {
	var out []Record
	for _, e := range r.List(key) {
		switch m := e.(type) {
		case map[string]any:
			out = append(out, Record(m))
		case Record:
			out = append(out, m)
		}
	}
	return out
}

// ItemIdentifier returns the record's item_identifier.
func (r Record) ItemIdentifier() string {
	return r.String("item_identifier")
}
