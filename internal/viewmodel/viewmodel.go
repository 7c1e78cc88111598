// Package viewmodel filters resolved items for display.
package viewmodel

import (
	"strings"

	"irepair-admin/internal/resolver"
)

// StatusAll disables the status filter
const StatusAll = "all"

// SearchKey extracts one searchable text from an item; "" never matches
type SearchKey func(item resolver.Item) string

// Display searches a display value, ignoring sentinels
func Display(key string) SearchKey {
	return func(item resolver.Item) string {
		v := item.Display[key]
		if v == resolver.SentinelName || v == resolver.SentinelValue {
			return ""
		}
		return v
	}
}

// Raw searches the raw document value at a dotted path
func Raw(path string) SearchKey {
	return func(item resolver.Item) string {
		return item.Fields.String(path)
	}
}

// Options configures Build for one view
type Options struct {
	SearchKeys []SearchKey
	// Include drops items it returns false for; nil keeps everything
	Include func(item resolver.Item) bool
}

// Build returns the items matching term and status, in input order.
// Soft-deleted records never show. It does not modify items.
func Build(items []resolver.Item, term, status string, opts Options) []resolver.Item {
	term = strings.ToLower(strings.TrimSpace(term))
	status = strings.TrimSpace(status)

	out := make([]resolver.Item, 0, len(items))
	for _, item := range items {
		if !Visible(item, opts) {
			continue
		}
		if status != "" && status != StatusAll && item.Record.StatusValue() != status {
			continue
		}
		if term != "" && !matches(item, term, opts.SearchKeys) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Visible reports whether item may show at all, before term and status
func Visible(item resolver.Item, opts Options) bool {
	if item.Record == nil || item.Record.Deleted() {
		return false
	}
	return opts.Include == nil || opts.Include(item)
}

func matches(item resolver.Item, term string, keys []SearchKey) bool {
	for _, key := range keys {
		v := key(item)
		if v != "" && strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

// Statuses counts visible items per status value, for filter chips
func Statuses(items []resolver.Item, opts Options) map[string]int {
	counts := map[string]int{}
	for _, item := range Build(items, "", StatusAll, opts) {
		counts[item.Record.StatusValue()]++
	}
	return counts
}
