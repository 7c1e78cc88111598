package docstore

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Firestore REST encodes every value as a one-key object naming its type,
// e.g. {"stringValue": "x"} or {"mapValue": {"fields": {...}}}.

func encodeFields(fields Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeValue(v any) map[string]any {
	switch val := v.(type) {
	case nil:
		return map[string]any{"nullValue": nil}
	case bool:
		return map[string]any{"booleanValue": val}
	case string:
		return map[string]any{"stringValue": val}
	case int:
		return map[string]any{"integerValue": strconv.Itoa(val)}
	case int64:
		return map[string]any{"integerValue": strconv.FormatInt(val, 10)}
	case float64:
		return map[string]any{"doubleValue": val}
	case float32:
		return map[string]any{"doubleValue": float64(val)}
	case time.Time:
		return map[string]any{"timestampValue": val.UTC().Format(time.RFC3339Nano)}
	case []string:
		values := make([]any, len(val))
		for i, s := range val {
			values[i] = encodeValue(s)
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}
	case []any:
		values := make([]any, len(val))
		for i, item := range val {
			values[i] = encodeValue(item)
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}
	case Fields:
		return map[string]any{"mapValue": map[string]any{"fields": encodeFields(val)}}
	case map[string]any:
		return map[string]any{"mapValue": map[string]any{"fields": encodeFields(Fields(val))}}
	default:
		return map[string]any{"stringValue": fmt.Sprint(val)}
	}
}

func decodeFields(raw map[string]any) (Fields, error) {
	out := make(Fields, len(raw))
	for k, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %s: value is not an object", k)
		}
		val, err := decodeValue(m)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

func decodeValue(v map[string]any) (any, error) {
	// a value object carries exactly one key; pick it deterministically
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw := v[k]
		switch k {
		case "nullValue":
			return nil, nil
		case "booleanValue":
			b, _ := raw.(bool)
			return b, nil
		case "stringValue", "referenceValue", "bytesValue":
			s, _ := raw.(string)
			return s, nil
		case "integerValue":
			switch n := raw.(type) {
			case string:
				i, err := strconv.ParseInt(n, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("bad integerValue %q: %w", n, err)
				}
				return i, nil
			case float64:
				return int64(n), nil
			}
			return nil, fmt.Errorf("bad integerValue %v", raw)
		case "doubleValue":
			switch n := raw.(type) {
			case float64:
				return n, nil
			case string:
				// NaN and Infinity arrive as strings
				f, err := strconv.ParseFloat(n, 64)
				if err != nil {
					return nil, fmt.Errorf("bad doubleValue %q: %w", n, err)
				}
				return f, nil
			}
			return nil, fmt.Errorf("bad doubleValue %v", raw)
		case "timestampValue":
			s, _ := raw.(string)
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("bad timestampValue %q: %w", s, err)
			}
			return t, nil
		case "geoPointValue":
			m, _ := raw.(map[string]any)
			return map[string]any{
				"latitude":  m["latitude"],
				"longitude": m["longitude"],
			}, nil
		case "mapValue":
			m, _ := raw.(map[string]any)
			inner, _ := m["fields"].(map[string]any)
			fields, err := decodeFields(inner)
			if err != nil {
				return nil, err
			}
			return map[string]any(fields), nil
		case "arrayValue":
			m, _ := raw.(map[string]any)
			items, _ := m["values"].([]any)
			out := make([]any, 0, len(items))
			for _, item := range items {
				im, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("array item is not an object")
				}
				val, err := decodeValue(im)
				if err != nil {
					return nil, err
				}
				out = append(out, val)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("unknown value type %v", keys)
}
