package visualizer

import (
	"fmt"
	"reflect"
	"sort"
	"time"
	"unicode/utf8"
)

// DefaultSampleSize bounds how many elements a structural predicate inspects.
//
// Predicates only look at the first SampleSize elements of a collection, so a sequence
// whose head matches a shape but whose tail does not is still accepted. Renderers must
// cope with the occasional odd element.
const DefaultSampleSize = 10

// DefaultPreviewLen is the longest inline preview of a nested value, in runes.
const DefaultPreviewLen = 120

func sequenceOf(v any) (reflect.Value, bool) {
	if v == nil {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv, true
	}
	return reflect.Value{}, false
}

func mapOf(v any) (reflect.Value, bool) {
	if v == nil {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return reflect.Value{}, false
	}
	return rv, true
}

func isBytes(rv reflect.Value) bool {
	return rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8
}

func sampleLen(rv reflect.Value, n int) int {
	if n <= 0 {
		n = DefaultSampleSize
	}
	if rv.Len() < n {
		return rv.Len()
	}
	return n
}

func elem(rv reflect.Value, i int) any {
	return rv.Index(i).Interface()
}

// sortedKeys returns the keys of a map value ordered by their display text.
func sortedKeys(rv reflect.Value) []reflect.Value {
	keys := rv.MapKeys()
	sort.SliceStable(keys, func(i, j int) bool {
		return keyText(keys[i]) < keyText(keys[j])
	})
	return keys
}

func keyText(k reflect.Value) string {
	return fmt.Sprint(k.Interface())
}

func keySignature(rv reflect.Value) []string {
	keys := sortedKeys(rv)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = keyText(k)
	}
	return out
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, time.Time, time.Duration, fmt.Stringer:
		return true
	}
	_, ok := toFloat(v)
	return ok
}

// Preview is the one-line text shown for a nested value inside a container view.
func Preview(v any, max int) string {
	var s string
	switch x := v.(type) {
	case nil:
		s = "nil"
	case string:
		s = x
	case error:
		s = x.Error()
	default:
		if rv, ok := mapOf(v); ok {
			s = fmt.Sprintf("{%d %s}", rv.Len(), plural(rv.Len(), "entry", "entries"))
		} else if rv, ok := sequenceOf(v); ok && !isBytes(rv) {
			s = fmt.Sprintf("[%d %s]", rv.Len(), plural(rv.Len(), "item", "items"))
		} else {
			s = fmt.Sprint(v)
		}
	}
	return truncate(s, max)
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
