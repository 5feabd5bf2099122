// Package normalize converts arbitrary nested extractor output into values
// that every record store can serialize: nil, bool, string, numbers,
// map[string]any and []any. Binary payloads become base64 text and values
// with a text form (times, durations, big numbers) become that text.
package normalize

import (
	"encoding"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// DefaultMaxDepth bounds how deeply nested a value may be.
const DefaultMaxDepth = 32

var (
	ErrDepthExceeded = errors.New("normalization depth exceeded")
	ErrKeyCollision  = errors.New("distinct map keys render to the same text")
)

// Normalizer walks a value tree. The zero value uses DefaultMaxDepth.
type Normalizer struct {
	MaxDepth int
}

// Normalize is shorthand for a Normalizer with the default depth ceiling.
func Normalize(v any) (any, error) {
	return Normalizer{}.Normalize(v)
}

func (n Normalizer) Normalize(v any) (any, error) {
	return n.walk(v, 0)
}

// Map normalizes every member of m. A nil map yields an empty map.
func (n Normalizer) Map(m map[string]any) (map[string]any, error) {
	out, err := n.walkStringMap(m, 0)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (n Normalizer) maxDepth() int {
	if n.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return n.MaxDepth
}

func (n Normalizer) walk(v any, depth int) (any, error) {
	if depth > n.maxDepth() {
		return nil, fmt.Errorf("%w: deeper than %d levels", ErrDepthExceeded, n.maxDepth())
	}

	// A nil pointer must not reach the text cases below; its methods may
	// dereference the receiver.
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}

	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x, nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case time.Duration:
		return x.String(), nil
	case map[string]any:
		return n.walkStringMap(x, depth)
	case []any:
		return n.walkSlice(reflect.ValueOf(x), depth)
	case encoding.TextMarshaler:
		b, err := x.MarshalText()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case fmt.Stringer:
		return x.String(), nil
	}

	return n.walkReflect(reflect.ValueOf(v), depth)
}

func (n Normalizer) walkStringMap(m map[string]any, depth int) (any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := n.walk(v, depth+1)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

// walkMap renders keys with fmt.Sprint. Keys that collide that way (1 and
// "1" in a map[any]any) are qualified with their type instead; a collision
// that survives qualification is an error.
func (n Normalizer) walkMap(rv reflect.Value, depth int) (any, error) {
	seen := make(map[string]int, rv.Len())
	for _, k := range rv.MapKeys() {
		seen[fmt.Sprint(k.Interface())]++
	}

	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := fmt.Sprint(iter.Key().Interface())
		if seen[key] > 1 {
			key = fmt.Sprintf("%T(%v)", iter.Key().Interface(), iter.Key().Interface())
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrKeyCollision, key)
		}
		nv, err := n.walk(iter.Value().Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		out[key] = nv
	}
	return out, nil
}

func (n Normalizer) walkSlice(rv reflect.Value, depth int) (any, error) {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return nil, nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		nv, err := n.walk(rv.Index(i).Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

// walkReflect handles named primitive kinds and foreign composites. Structs
// are treated as a mapping of their exported fields.
func (n Normalizer) walkReflect(rv reflect.Value, depth int) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		// Following a pointer does not add a level of nesting, but a
		// self-referencing pointer must still hit the ceiling.
		return n.walk(rv.Elem().Interface(), depth+1)
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return base64.StdEncoding.EncodeToString(b), nil
		}
		return n.walkSlice(rv, depth)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		return n.walkMap(rv, depth)
	case reflect.Struct:
		t := rv.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			nv, err := n.walk(rv.Field(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[f.Name] = nv
		}
		return out, nil
	}

	// Channels, funcs and complex numbers have no storage form.
	return fmt.Sprint(rv.Interface()), nil
}
