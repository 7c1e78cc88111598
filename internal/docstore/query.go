package docstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Op is a filter comparison
type Op string

const (
	OpEqual    Op = "=="
	OpNotEqual Op = "!="
	OpIn       Op = "in"
)

// Filter compares the value at Path. For OpIn, Value is a []string.
// A document missing Path never matches, whatever the operator.
type Filter struct {
	Path  string
	Op    Op
	Value any
}

// Order sorts by Path; documents missing Path sort as the smallest value
type Order struct {
	Path string
	Desc bool
}

// Query selects and orders documents of one collection
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []Order
}

var pathSegment = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate checks the collection and every path
func (q Query) Validate() error {
	if !pathSegment.MatchString(q.Collection) {
		return fmt.Errorf("invalid collection %q", q.Collection)
	}
	for _, f := range q.Filters {
		if err := validatePath(f.Path); err != nil {
			return err
		}
		switch f.Op {
		case OpEqual, OpNotEqual:
		case OpIn:
			if _, ok := f.Value.([]string); !ok {
				return fmt.Errorf("filter %s: in requires []string", f.Path)
			}
		default:
			return fmt.Errorf("filter %s: unsupported operator %q", f.Path, f.Op)
		}
	}
	for _, o := range q.OrderBy {
		if err := validatePath(o.Path); err != nil {
			return err
		}
	}
	return nil
}

func validatePath(path string) error {
	for _, seg := range strings.Split(path, ".") {
		if !pathSegment.MatchString(seg) {
			return fmt.Errorf("invalid field path %q", path)
		}
	}
	return nil
}

// Matches reports whether f satisfies every filter
func (q Query) Matches(f Fields) bool {
	for _, flt := range q.Filters {
		v, ok := f.Lookup(flt.Path)
		if !ok {
			return false
		}
		got := FormatValue(v)
		switch flt.Op {
		case OpEqual:
			if got != FormatValue(flt.Value) {
				return false
			}
		case OpNotEqual:
			if got == FormatValue(flt.Value) {
				return false
			}
		case OpIn:
			values, _ := flt.Value.([]string)
			found := false
			for _, want := range values {
				if got == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// Apply filters and sorts docs in place order, ties broken by id
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d.Fields) {
			out = append(out, d)
		}
	}
	q.sort(out)
	return out
}

// sort orders docs by OrderBy, missing values first ascending and last
// descending, then by id. Every backend's result goes through it so mixed
// value types order the same everywhere.
func (q Query) sort(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range q.OrderBy {
			c := compareValues(docs[i].Fields, docs[j].Fields, o.Path)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})
}

func compareValues(a, b Fields, path string) int {
	av, aok := a.Lookup(path)
	bv, bok := b.Lookup(path)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	if af, ok := toFloat(av); ok {
		if bf, ok := toFloat(bv); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if at, ok := av.(time.Time); ok {
		if bt, ok := bv.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(FormatValue(av), FormatValue(bv))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
