package visualizer

import (
	"errors"
	"fmt"
	"html/template"
)

// maxChain bounds how far an error chain is walked for display.
const maxChain = 32

// Exception shows an error, its Go type and its causes. Each direct cause is a
// drill-down target so the user can walk the chain one frame at a time.
type Exception struct {
	PreviewLen int
}

type causeLink struct {
	Label   string
	Link    string
	Preview string
}

func (e *Exception) Label() string   { return "exception" }
func (e *Exception) Precedence() int { return PrecedenceAuthoritative }

func (e *Exception) Supports(v any) bool {
	_, ok := v.(error)
	return ok
}

func (e *Exception) Render(rc *RenderContext, v any) (template.HTML, error) {
	err, ok := v.(error)
	if !ok {
		return "", fmt.Errorf("not an error: %T", v)
	}

	var causes []causeLink
	direct := directCauses(err)
	for i, cause := range direct {
		label := "cause"
		if len(direct) > 1 {
			label = fmt.Sprintf("cause[%d]", i)
		}
		causes = append(causes, causeLink{
			Label:   label,
			Link:    rc.Target(label, cause),
			Preview: Preview(cause, e.PreviewLen),
		})
	}

	return execute("exception", struct {
		Type    string
		Message string
		Causes  []causeLink
		Chain   []string
	}{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Causes:  causes,
		Chain:   chain(err),
	})
}

func directCauses(err error) []error {
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		var out []error
		for _, c := range u.Unwrap() {
			if c != nil {
				out = append(out, c)
			}
		}
		return out
	case interface{ Unwrap() error }:
		if c := u.Unwrap(); c != nil {
			return []error{c}
		}
	}
	return nil
}

// chain lists the messages along the first-cause path.
func chain(err error) []string {
	var out []string
	for cur := err; cur != nil && len(out) < maxChain; {
		out = append(out, cur.Error())
		next := errors.Unwrap(cur)
		if next == nil {
			if causes := directCauses(cur); len(causes) > 0 {
				next = causes[0]
			}
		}
		cur = next
	}
	return out
}
