package visualizer

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sort"
)

// Registry is an ordered, read-only set of strategies. Order of construction is the
// tie-break between strategies of equal precedence.
type Registry struct {
	vs      []Visualizer
	byLabel map[string]int
}

// NewRegistry freezes vs in the given order. Nil entries are skipped; a later strategy
// reusing an earlier label is reachable through dispatch but not through Lookup.
func NewRegistry(vs ...Visualizer) *Registry {
	r := &Registry{
		vs:      make([]Visualizer, 0, len(vs)),
		byLabel: make(map[string]int, len(vs)),
	}
	for _, v := range vs {
		if v == nil {
			continue
		}
		label := safeLabel(v)
		if _, dup := r.byLabel[label]; !dup {
			r.byLabel[label] = len(r.vs)
		}
		r.vs = append(r.vs, v)
	}
	return r
}

// All returns the strategies in registration order.
func (r *Registry) All() []Visualizer {
	out := make([]Visualizer, len(r.vs))
	copy(out, r.vs)
	return out
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int { return len(r.vs) }

// Lookup finds a strategy by label.
func (r *Registry) Lookup(label string) (Visualizer, bool) {
	i, ok := r.byLabel[label]
	if !ok {
		return nil, false
	}
	return r.vs[i], true
}

// Route is a side-channel handler contributed by a strategy.
type Route struct {
	Visualizer string
	Pattern    string
	Handler    http.Handler
}

// Routes collects side-channel handlers in registration order.
func (r *Registry) Routes() []Route {
	var routes []Route
	for _, v := range r.vs {
		sc, ok := v.(SideChannel)
		if !ok {
			continue
		}
		pattern, h := sc.Handler()
		if h == nil {
			continue
		}
		routes = append(routes, Route{Visualizer: safeLabel(v), Pattern: pattern, Handler: h})
	}
	return routes
}

// Dispatcher selects strategies for values. It holds no mutable state and is safe for
// concurrent use.
type Dispatcher struct {
	reg *Registry
}

// NewDispatcher creates a dispatcher over reg.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Match is an applicable strategy with the precedence it reported for the value.
type Match struct {
	Visualizer Visualizer
	Precedence int
}

// Label is shorthand for the matched strategy's label.
func (m Match) Label() string { return safeLabel(m.Visualizer) }

// Matches returns every strategy supporting v, highest precedence first, ties in
// registration order. A strategy whose Supports or Precedence panics is left out.
func (d *Dispatcher) Matches(v any) []Match {
	matches := make([]Match, 0, 4)
	for _, viz := range d.reg.vs {
		prec, ok, err := probe(viz, v)
		if err != nil {
			log.Printf("visualizer %s: predicate fault on %T: %v", safeLabel(viz), v, err)
			continue
		}
		if ok {
			matches = append(matches, Match{Visualizer: viz, Precedence: prec})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Precedence > matches[j].Precedence
	})
	return matches
}

// Applicable returns the strategies supporting v in dispatch order.
func (d *Dispatcher) Applicable(v any) []Visualizer {
	matches := d.Matches(v)
	out := make([]Visualizer, len(matches))
	for i, m := range matches {
		out[i] = m.Visualizer
	}
	return out
}

// Best returns the winning strategy for v. It reports false when nothing applies,
// which callers render as an empty view.
func (d *Dispatcher) Best(v any) (Visualizer, bool) {
	matches := d.Matches(v)
	if len(matches) == 0 {
		return nil, false
	}
	return matches[0].Visualizer, true
}

// Select returns the applicable strategy labelled label, falling back to Best when the
// label is empty or does not apply to v.
func (d *Dispatcher) Select(v any, label string) (Visualizer, bool) {
	if label != "" {
		for _, m := range d.Matches(v) {
			if m.Label() == label {
				return m.Visualizer, true
			}
		}
	}
	return d.Best(v)
}

// Render runs viz on v. Errors and panics come back as *RenderError.
func (d *Dispatcher) Render(rc *RenderContext, viz Visualizer, v any) (out template.HTML, err error) {
	label := safeLabel(viz)
	defer func() {
		if p := recover(); p != nil {
			log.Printf("visualizer %s: render panic: %v", label, p)
			out, err = "", &RenderError{Visualizer: label, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	html, rerr := viz.Render(rc, v)
	if rerr != nil {
		log.Printf("visualizer %s: render failed: %v", label, rerr)
		return "", &RenderError{Visualizer: label, Err: rerr}
	}
	return html, nil
}

func probe(viz Visualizer, v any) (prec int, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			prec, ok, err = 0, false, fmt.Errorf("panic: %v", p)
		}
	}()
	if !viz.Supports(v) {
		return 0, false, nil
	}
	return viz.Precedence(), true, nil
}

func safeLabel(viz Visualizer) (label string) {
	defer func() {
		if recover() != nil {
			label = fmt.Sprintf("%T", viz)
		}
	}()
	return viz.Label()
}
