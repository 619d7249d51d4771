package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store clock when the write commits.
var ServerTimestamp any = serverTimestamp{}

const (
	timestampKey   = ".sv"
	timestampValue = "timestamp"
)

// MarshalJSON keeps the placeholder intact through normalization so the
// backend can resolve it atomically with the write.
func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`{".sv":"timestamp"}`), nil
}

// Decode converts a snapshot value into a typed record.
func Decode(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

func isServerTimestamp(v any) bool {
	switch val := v.(type) {
	case serverTimestamp, *serverTimestamp:
		return true
	case map[string]any:
		return len(val) == 1 && val[timestampKey] == timestampValue
	}
	return false
}

func hasServerTimestamp(v any) bool {
	if isServerTimestamp(v) {
		return true
	}
	if m, ok := v.(map[string]any); ok {
		for _, child := range m {
			if hasServerTimestamp(child) {
				return true
			}
		}
	}
	return false
}

func fieldsHaveServerTimestamp(fields map[string]any) bool {
	for _, v := range fields {
		if hasServerTimestamp(v) {
			return true
		}
	}
	return false
}

func resolveServerTimestamps(v any, now int64) any {
	if isServerTimestamp(v) {
		return now
	}
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, child := range m {
			out[k] = resolveServerTimestamps(child, now)
		}
		return out
	}
	return v
}

// normalize turns an arbitrary value into the store's JSON-like shape:
// nested map[string]any with string, bool, int64, float64 or []any leaves.
// Empty objects collapse to nil.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return prune(convertNumbers(decoded)), nil
}

func convertNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, child := range val {
			val[k] = convertNumbers(child)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = convertNumbers(child)
		}
		return val
	}
	return v
}

func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		if p := prune(child); p == nil {
			delete(m, k)
		} else {
			m[k] = p
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	}
	return v
}

func getAt(root any, segs []string) (any, bool) {
	cur := root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// setAt returns root with value placed at segs. A nil value removes the
// node and any parents left empty.
func setAt(root any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	m, ok := root.(map[string]any)
	if !ok {
		if value == nil {
			return root
		}
		m = make(map[string]any)
	}
	child := setAt(m[segs[0]], segs[1:], value)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// flatten maps every leaf under value to its path relative to base.
func flatten(base string, value any, out map[string]any) {
	m, ok := value.(map[string]any)
	if !ok {
		if value != nil {
			out[base] = value
		}
		return
	}
	for k, child := range m {
		flatten(Join(base, k), child, out)
	}
}
