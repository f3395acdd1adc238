package knowledgegraph

import (
	"fmt"
	"reflect"
	"time"

	json "github.com/json-iterator/go"
)

// SanitizeProperties returns a copy of props the graph store accepts: nil and
// typed-nil values are stripped, times become RFC3339 strings, and nested
// maps or structs are stored as JSON strings. Slices are kept when every
// element is a scalar of one kind; otherwise they are stored as JSON too.
func SanitizeProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if k == "" {
			continue
		}
		if s, ok := sanitizeValue(v); ok {
			out[k] = s
		}
	}
	return out
}

func sanitizeValue(v any) (any, bool) {
	if isNil(v) {
		return nil, false
	}
	switch x := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint8, uint16, uint32,
		float32, float64:
		return x, true
	case uint:
		return int64(x), true
	case uint64:
		return int64(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	case *time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	case time.Duration:
		return x.String(), true
	case fmt.Stringer:
		return x.String(), true
	case []string:
		return x, true
	case []any:
		return sanitizeList(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		return sanitizeValue(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), true
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return sanitizeList(items)
	}
	return encodeJSON(v)
}

func sanitizeList(items []any) (any, bool) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if isNil(item) {
			continue
		}
		if !isScalar(item) {
			return encodeJSON(items)
		}
		if s, ok := sanitizeValue(item); ok {
			out = append(out, s)
		}
	}
	if !homogeneous(out) {
		return encodeJSON(out)
	}
	return out, true
}

// homogeneous reports whether every element shares one storable kind. The
// graph store rejects lists that mix strings, booleans, integers and floats.
func homogeneous(items []any) bool {
	for i := 1; i < len(items); i++ {
		if scalarKind(items[i]) != scalarKind(items[0]) {
			return false
		}
	}
	return true
}

func scalarKind(v any) string {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Bool:
		return "bool"
	default:
		return "string"
	}
}

func isScalar(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return false
	}
	return true
}

func encodeJSON(v any) (any, bool) {
	b, err := json.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		return nil, false
	}
	return string(b), true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
