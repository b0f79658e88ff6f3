package visualizer

import (
	"html/template"
	"strconv"
	"strings"
)

// Table shows a sequence of row-shaped records (maps sharing one key set) as a table
// with a column per key.
type Table struct {
	SampleSize int
	PreviewLen int
	// PageSize caps rendered rows after filtering. Zero renders every match.
	PageSize int
}

// TableRow is one rendered row.
type TableRow struct {
	Index int
	Link  string
	Cells []string
}

// TableData is the filtered, paged view of a record sequence.
type TableData struct {
	Columns []string
	Rows    []TableRow
	Filter  string
	Viz     string
	Matched int
	Total   int
}

func (t *Table) Label() string   { return "table" }
func (t *Table) Precedence() int { return PrecedenceGeneric }

// Supports samples the head of the sequence; every sampled element must be a map with
// the same keys as the first.
func (t *Table) Supports(v any) bool {
	rv, ok := sequenceOf(v)
	if !ok || rv.Len() == 0 {
		return false
	}
	var sig []string
	for i := 0; i < sampleLen(rv, t.SampleSize); i++ {
		row, ok := mapOf(elem(rv, i))
		if !ok {
			return false
		}
		keys := keySignature(row)
		if i == 0 {
			if len(keys) == 0 {
				return false
			}
			sig = keys
			continue
		}
		if !sameKeys(sig, keys) {
			return false
		}
	}
	return true
}

// View builds the table for v. Rows outside the sample that are not maps render as
// empty cells. Target registration is skipped when rc is nil.
func (t *Table) View(rc *RenderContext, v any) TableData {
	rv, _ := sequenceOf(v)
	var data TableData
	data.Total = rv.Len()
	if rc != nil {
		data.Filter = rc.Filter
		data.Viz = rc.Viz
	}
	if data.Total == 0 {
		return data
	}
	first, _ := mapOf(elem(rv, 0))
	data.Columns = keySignature(first)
	needle := strings.ToLower(strings.TrimSpace(data.Filter))

	for i := 0; i < rv.Len(); i++ {
		record := elem(rv, i)
		cells := t.cells(record, data.Columns)
		if needle != "" && !rowContains(cells, needle) {
			continue
		}
		data.Matched++
		if t.PageSize > 0 && len(data.Rows) >= t.PageSize {
			continue
		}
		row := TableRow{Index: i, Cells: cells}
		if rc != nil {
			row.Link = rc.Target(strconv.Itoa(i), record)
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}

func (t *Table) Render(rc *RenderContext, v any) (template.HTML, error) {
	return execute("table", t.View(rc, v))
}

func (t *Table) cells(record any, columns []string) []string {
	cells := make([]string, len(columns))
	rv, ok := mapOf(record)
	if !ok {
		return cells
	}
	index := make(map[string]any, rv.Len())
	for _, k := range rv.MapKeys() {
		index[keyText(k)] = rv.MapIndex(k).Interface()
	}
	for i, col := range columns {
		if val, ok := index[col]; ok {
			cells[i] = Preview(val, t.PreviewLen)
		}
	}
	return cells
}

func rowContains(cells []string, needle string) bool {
	for _, c := range cells {
		if strings.Contains(strings.ToLower(c), needle) {
			return true
		}
	}
	return false
}
