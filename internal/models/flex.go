package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time accepts RFC 3339 strings, a few common date layouts and epoch
// milliseconds. Anything else decodes to the zero time instead of failing
// the whole record.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return nil
	}

	if ms, err := strconv.ParseFloat(string(data), 64); err == nil {
		t.Time = time.UnixMilli(int64(ms)).UTC()
	}
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// Text accepts a JSON string, number or bool and keeps its text
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		_ = json.Unmarshal(data, &s)
		*t = Text(s)
		return nil
	}
	*t = Text(data)
	return nil
}

// Flag accepts a JSON bool, the strings "true"/"yes"/"1" or a non-zero
// number. Anything else is false.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = false
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case 't':
		*f = string(data) == "true"
	case '"':
		var s string
		_ = json.Unmarshal(data, &s)
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			*f = true
		}
	default:
		if n, err := strconv.ParseFloat(string(data), 64); err == nil {
			*f = n != 0
		}
	}
	return nil
}

// List accepts a JSON array of scalars or a single comma separated string.
// Any other shape is an empty list.
type List []string

func (l *List) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		_ = json.Unmarshal(data, &s)
		var out List
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*l = out
		return nil
	}
	var items []Text
	if err := json.Unmarshal(data, &items); err != nil {
		*l = nil
		return nil
	}
	out := make(List, len(items))
	for i, item := range items {
		out[i] = string(item)
	}
	*l = out
	return nil
}
