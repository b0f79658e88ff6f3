package visualizer

import (
	"html/template"
	"strconv"
)

// Map lists the entries of any map; each key is a drill-down target.
type Map struct {
	PreviewLen int
}

type mapEntry struct {
	Key     string
	Link    string
	Preview string
}

func (m *Map) Label() string   { return "map" }
func (m *Map) Precedence() int { return PrecedenceGeneric }

func (m *Map) Supports(v any) bool {
	_, ok := mapOf(v)
	return ok
}

func (m *Map) Render(rc *RenderContext, v any) (template.HTML, error) {
	rv, _ := mapOf(v)
	keys := sortedKeys(rv)
	entries := make([]mapEntry, 0, len(keys))
	for _, k := range keys {
		label := keyText(k)
		val := rv.MapIndex(k).Interface()
		entries = append(entries, mapEntry{
			Key:     label,
			Link:    rc.Target(label, val),
			Preview: Preview(val, m.PreviewLen),
		})
	}
	return execute("map", struct {
		Entries []mapEntry
		Count   int
	}{entries, len(entries)})
}

// Sequence lists the elements of a slice or array by index.
type Sequence struct {
	PreviewLen int
	// MaxItems caps how many elements are listed. Zero lists everything.
	MaxItems int
}

type seqItem struct {
	Index   int
	Link    string
	Preview string
}

func (s *Sequence) Label() string   { return "sequence" }
func (s *Sequence) Precedence() int { return PrecedenceGeneric }

func (s *Sequence) Supports(v any) bool {
	_, ok := sequenceOf(v)
	return ok
}

func (s *Sequence) Render(rc *RenderContext, v any) (template.HTML, error) {
	rv, _ := sequenceOf(v)
	n := rv.Len()
	shown := n
	if s.MaxItems > 0 && shown > s.MaxItems {
		shown = s.MaxItems
	}
	items := make([]seqItem, 0, shown)
	for i := 0; i < shown; i++ {
		val := elem(rv, i)
		items = append(items, seqItem{
			Index:   i,
			Link:    rc.Target(strconv.Itoa(i), val),
			Preview: Preview(val, s.PreviewLen),
		})
	}
	return execute("sequence", struct {
		Items     []seqItem
		Count     int
		Truncated bool
	}{items, n, shown < n})
}
