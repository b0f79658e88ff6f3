package visualizer

import (
	"fmt"
	"html/template"
	"time"
)

// Scalar prints leaf values (strings, numbers, booleans, nil, times) as literal text.
type Scalar struct{}

func (Scalar) Label() string   { return "scalar" }
func (Scalar) Precedence() int { return PrecedenceGeneric }

func (Scalar) Supports(v any) bool {
	if _, isErr := v.(error); isErr {
		return false
	}
	return isScalar(v)
}

func (Scalar) Render(_ *RenderContext, v any) (template.HTML, error) {
	kind, text := "value", ""
	switch x := v.(type) {
	case nil:
		kind, text = "nil", "nil"
	case string:
		kind, text = "string", x
	case bool:
		kind, text = "bool", fmt.Sprint(x)
	case time.Time:
		kind, text = "time", x.Format(time.RFC3339Nano)
	default:
		if _, ok := toFloat(v); ok {
			kind = "number"
		}
		text = fmt.Sprint(v)
	}
	return execute("scalar", struct{ Kind, Text string }{kind, text})
}
