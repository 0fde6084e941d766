package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Normalize converts v into plain JSON shapes (map[string]any, []any,
// float64, string, bool, nil) so stores can compare and copy it safely.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// Clone returns a deep, normalized copy of doc
func Clone(doc Document) (Document, error) {
	if doc == nil {
		return nil, nil
	}
	v, err := Normalize(map[string]any(doc))
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document is not an object")
	}
	return Document(m), nil
}

// Apply runs updates against doc in order. doc is modified in place.
func Apply(doc Document, updates ...Update) error {
	for _, u := range updates {
		if err := applyOne(doc, u); err != nil {
			return fmt.Errorf("%s %s: %w", u.Kind, u.Path, err)
		}
	}
	return nil
}

func applyOne(doc Document, u Update) error {
	parts := splitPath(u.Path)
	if len(parts) == 0 {
		return fmt.Errorf("empty path")
	}

	if u.Kind == KindDelete {
		parent, ok := lookupParent(doc, parts, false)
		if ok {
			delete(parent, parts[len(parts)-1])
		}
		return nil
	}

	parent, _ := lookupParent(doc, parts, true)
	if parent == nil {
		return fmt.Errorf("path crosses a non-object field")
	}
	leaf := parts[len(parts)-1]

	switch u.Kind {
	case KindSet:
		v, err := Normalize(u.Value)
		if err != nil {
			return err
		}
		parent[leaf] = v

	case KindArrayUnion:
		arr, err := arrayAt(parent, leaf)
		if err != nil {
			return err
		}
		for _, raw := range u.Values {
			v, err := Normalize(raw)
			if err != nil {
				return err
			}
			if !containsValue(arr, v) {
				arr = append(arr, v)
			}
		}
		parent[leaf] = arr

	case KindArrayRemove:
		arr, err := arrayAt(parent, leaf)
		if err != nil {
			return err
		}
		kept := make([]any, 0, len(arr))
		for _, existing := range arr {
			drop := false
			for _, raw := range u.Values {
				v, err := Normalize(raw)
				if err != nil {
					return err
				}
				if reflect.DeepEqual(existing, v) {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, existing)
			}
		}
		parent[leaf] = kept

	case KindMax:
		next, ok := ToFloat(u.Value)
		if !ok {
			return fmt.Errorf("max value is not numeric")
		}
		if cur, ok := ToFloat(parent[leaf]); ok && cur >= next {
			return nil
		}
		parent[leaf] = next

	default:
		return fmt.Errorf("unsupported update kind %d", u.Kind)
	}
	return nil
}

// Lookup returns the value at a dotted path
func Lookup(doc Document, path string) (any, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, false
	}
	parent, ok := lookupParent(doc, parts, false)
	if !ok {
		return nil, false
	}
	v, ok := parent[parts[len(parts)-1]]
	return v, ok
}

// Match reports whether doc satisfies filter. Numeric values are compared
// numerically, everything else only supports equality.
func Match(doc Document, filter Filter) bool {
	v, ok := Lookup(doc, filter.Path)
	if !ok {
		return false
	}

	a, aNum := ToFloat(v)
	b, bNum := ToFloat(filter.Value)
	if aNum && bNum {
		switch filter.Op {
		case OpLess:
			return a < b
		case OpLessEqual:
			return a <= b
		case OpEqual:
			return a == b
		case OpGreater:
			return a > b
		case OpGreaterEqual:
			return a >= b
		}
		return false
	}

	if filter.Op != OpEqual {
		return false
	}
	want, err := Normalize(filter.Value)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(v, want)
}

// ToFloat converts the numeric shapes produced by JSON, BSON and Go literals
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// lookupParent walks to the map holding the last path element. With create
// set, missing intermediate maps are created.
func lookupParent(doc Document, parts []string, create bool) (map[string]any, bool) {
	cur := map[string]any(doc)
	for _, p := range parts[:len(parts)-1] {
		next, exists := cur[p]
		if !exists || next == nil {
			if !create {
				return nil, false
			}
			m := make(map[string]any)
			cur[p] = m
			cur = m
			continue
		}
		switch m := next.(type) {
		case map[string]any:
			cur = m
		case Document:
			cur = m
		default:
			return nil, false
		}
	}
	return cur, true
}

func arrayAt(parent map[string]any, leaf string) ([]any, error) {
	switch v := parent[leaf].(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("field is not an array")
	}
}

func containsValue(arr []any, v any) bool {
	for _, existing := range arr {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}
