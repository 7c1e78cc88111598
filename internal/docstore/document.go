package docstore

import (
	"strconv"
	"strings"
	"time"
)

// Fields is the decoded body of a document. Values follow encoding/json
// shapes: string, float64, int64, bool, time.Time, map[string]any, []any.
type Fields map[string]any

// Document is one record with its identity
type Document struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}

// Lookup resolves a dotted path such as "status.global"
func (f Fields) Lookup(path string) (any, bool) {
	if f == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(f)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path formatted for display, or "" when absent
func (f Fields) String(path string) string {
	v, ok := f.Lookup(path)
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Bool returns the boolean at path; anything else is false
func (f Fields) Bool(path string) bool {
	v, ok := f.Lookup(path)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Map returns the nested object at path
func (f Fields) Map(path string) (Fields, bool) {
	v, ok := f.Lookup(path)
	if !ok {
		return nil, false
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	return Fields(m), true
}

// Clone returns a deep copy
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	return Fields(cloneValue(map[string]any(f)).(map[string]any))
}

// FormatValue renders a scalar the way it is shown and searched
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Fields:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Fields:
		return cloneValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

func cloneDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = Document{ID: d.ID, Fields: d.Fields.Clone()}
	}
	return out
}
