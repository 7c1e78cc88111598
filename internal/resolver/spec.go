package resolver

import (
	"strings"

	"irepair-admin/internal/docstore"
	"irepair-admin/internal/models"
)

// Display placeholders for values that could not be resolved
const (
	SentinelName  = "Unknown"
	SentinelValue = "N/A"
)

// Accessor extracts one display value; ok is false when absent or empty
type Accessor func(f docstore.Fields) (value string, ok bool)

// Path reads a dotted path
func Path(path string) Accessor {
	return func(f docstore.Fields) (string, bool) {
		v := strings.TrimSpace(f.String(path))
		return v, v != ""
	}
}

// Join concatenates the non-empty values at paths with sep
func Join(sep string, paths ...string) Accessor {
	return func(f docstore.Fields) (string, bool) {
		parts := make([]string, 0, len(paths))
		for _, p := range paths {
			if v := strings.TrimSpace(f.String(p)); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, sep), len(parts) > 0
	}
}

// Field is one display value. Accessors are tried in order and the first
// hit wins; Sentinel is used when none hits.
type Field struct {
	Key       string
	Accessors []Accessor
	Sentinel  string
}

func (f Field) resolve(fields docstore.Fields) (string, bool) {
	if fields == nil {
		return f.Sentinel, false
	}
	for _, a := range f.Accessors {
		if v, ok := a(fields); ok {
			return v, true
		}
	}
	return f.Sentinel, false
}

// NameField is a Field falling back to SentinelName
func NameField(key string, accessors ...Accessor) Field {
	return Field{Key: key, Accessors: accessors, Sentinel: SentinelName}
}

// ValueField is a Field falling back to SentinelValue
func ValueField(key string, accessors ...Accessor) Field {
	return Field{Key: key, Accessors: accessors, Sentinel: SentinelValue}
}

// Reference is an entity a record points to by id. An embedded snapshot
// at EmbeddedPath that yields any of Fields is used as is; otherwise the
// entity is fetched from Collection.
type Reference struct {
	Name         string
	Collection   string
	IDPath       string
	EmbeddedPath string
	Fields       []Field
}

// Decoder maps a raw document onto its typed record
type Decoder func(doc docstore.Document) (models.Record, error)

// Spec describes how one kind of record is denormalized
type Spec struct {
	Decode     Decoder
	Local      []Field
	References []Reference
}

// List joins the scalar elements of the array at path with sep
func List(path, sep string) Accessor {
	return func(f docstore.Fields) (string, bool) {
		v, ok := f.Lookup(path)
		if !ok {
			return "", false
		}
		items, ok := v.([]any)
		if !ok {
			s := strings.TrimSpace(docstore.FormatValue(v))
			return s, s != ""
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if s := strings.TrimSpace(docstore.FormatValue(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, sep), len(parts) > 0
	}
}
