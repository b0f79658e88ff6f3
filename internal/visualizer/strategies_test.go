package visualizer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/zeitstein/REPLey/internal/download"
	"github.com/zeitstein/REPLey/internal/navigation"
)

func newDispatcher(opts Options) *Dispatcher {
	return NewDispatcher(NewRegistry(RegisterDefaults(opts)...))
}

func TestMapRendersLiteralTextAndDescends(t *testing.T) {
	value := map[string]any{"foo": 1, "bar": "<script>alert(2)</script>"}
	d := newDispatcher(Options{})

	viz, ok := d.Best(value)
	if !ok || viz.Label() != "map" {
		t.Fatalf("expected map visualizer, got %v", viz)
	}

	rc := &RenderContext{ResultID: "r1", LinkFor: func(i int) string { return "/r/r1/descend?t=" + strconv.Itoa(i) }}
	html, err := d.Render(rc, viz, value)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	out := string(html)
	if strings.Contains(out, "<script>") {
		t.Fatalf("value was rendered as markup: %s", out)
	}
	if !strings.Contains(out, "&lt;script&gt;alert(2)&lt;/script&gt;") {
		t.Errorf("expected escaped literal text, got %s", out)
	}

	// Keys are listed in sorted order: bar, foo.
	targets := rc.Targets()
	if len(targets) != 2 || targets[0].Label != "bar" {
		t.Fatalf("unexpected targets %#v", targets)
	}

	stack := navigation.New(value)
	stack.Descend(targets[0].Label, targets[0].Value)
	if stack.Current() != "<script>alert(2)</script>" {
		t.Errorf("unexpected current value %v", stack.Current())
	}
	if stack.Trail() != "bar;" {
		t.Errorf("expected trail bar;, got %q", stack.Trail())
	}

	next, ok := d.Best(stack.Current())
	if !ok || next.Label() != "scalar" {
		t.Fatalf("expected scalar for the string, got %v", next)
	}
	html, err = d.Render(&RenderContext{}, next, stack.Current())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(html), "<script>") {
		t.Errorf("scalar rendered markup: %s", html)
	}
}

func records(n int) []any {
	rows := make([]any, n)
	for i := range rows {
		rows[i] = map[string]any{
			"id":   i,
			"name": fmt.Sprintf("row-%03d", i),
			"tag":  "common",
		}
	}
	return rows
}

func TestTableMatchesUniformRecords(t *testing.T) {
	rows := records(101)
	rows[57].(map[string]any)["tag"] = "needle"
	d := newDispatcher(Options{})

	var table Visualizer
	for _, m := range d.Matches(rows) {
		if m.Visualizer.Label() == "table" {
			table = m.Visualizer
			if m.Precedence != PrecedenceGeneric {
				t.Errorf("expected generic precedence, got %d", m.Precedence)
			}
		}
	}
	if table == nil {
		t.Fatal("expected table visualizer to match")
	}
	if best, _ := d.Best(rows); best.Label() != "table" {
		t.Errorf("expected table to beat sequence on tie, got %s", best.Label())
	}

	tv := table.(*Table)
	all := tv.View(&RenderContext{}, rows)
	if all.Total != 101 || len(all.Rows) != 101 {
		t.Fatalf("expected 101 rows, got total=%d shown=%d", all.Total, len(all.Rows))
	}
	if strings.Join(all.Columns, ",") != "id,name,tag" {
		t.Errorf("unexpected columns %v", all.Columns)
	}

	filtered := tv.View(&RenderContext{Filter: "needle"}, rows)
	if len(filtered.Rows) != 1 || filtered.Matched != 1 {
		t.Fatalf("expected 1 row after filtering, got %d", len(filtered.Rows))
	}
	if filtered.Rows[0].Index != 57 {
		t.Errorf("expected row 57, got %d", filtered.Rows[0].Index)
	}

	rc := &RenderContext{Filter: "needle", Viz: "table"}
	html, err := d.Render(rc, table, rows)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(html), `<input type="hidden" name="viz" value="table">`) {
		t.Errorf("filter form should keep the pinned visualizer: %s", html)
	}
	if !strings.Contains(string(html), "showing 1 of 1 matching rows (101 total)") {
		t.Errorf("unexpected summary in %s", html)
	}
	if len(rc.Targets()) != 1 || rc.Targets()[0].Label != "57" {
		t.Errorf("expected one row target labelled 57, got %#v", rc.Targets())
	}
}

func TestTableSamplingApproximation(t *testing.T) {
	tbl := &Table{SampleSize: DefaultSampleSize}
	rows := records(DefaultSampleSize)
	rows = append(rows, "not a record")
	if !tbl.Supports(rows) {
		t.Error("expected a matching head to be accepted despite the tail")
	}

	data := tbl.View(nil, rows)
	last := data.Rows[len(data.Rows)-1]
	for _, c := range last.Cells {
		if c != "" {
			t.Errorf("expected empty cells for the odd row, got %v", last.Cells)
		}
	}

	mixed := records(3)
	mixed[1] = map[string]any{"other": 1}
	if tbl.Supports(mixed) {
		t.Error("expected differing key sets inside the sample to be rejected")
	}
	if tbl.Supports([]any{}) {
		t.Error("expected empty sequence to be rejected")
	}
	if tbl.Supports([]any{map[string]any{}}) {
		t.Error("expected key-less records to be rejected")
	}
}

func TestTablePageSize(t *testing.T) {
	tbl := &Table{PageSize: 10}
	data := tbl.View(nil, records(25))
	if len(data.Rows) != 10 || data.Matched != 25 {
		t.Errorf("expected 10 of 25 rows, got %d of %d", len(data.Rows), data.Matched)
	}
}

func TestSequenceTargets(t *testing.T) {
	seq := &Sequence{MaxItems: 2}
	rc := &RenderContext{}
	html, err := seq.Render(rc, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rc.Targets()) != 2 || rc.Targets()[1].Label != "1" || rc.Targets()[1].Value != "b" {
		t.Errorf("unexpected targets %#v", rc.Targets())
	}
	if !strings.Contains(string(html), "showing 2 of 3 items") {
		t.Errorf("expected truncation summary, got %s", html)
	}
}

type wrapped struct{ inner error }

func (w *wrapped) Error() string { return "outer: " + w.inner.Error() }
func (w *wrapped) Unwrap() error { return w.inner }

func TestExceptionCauses(t *testing.T) {
	root := errors.New("root cause")
	err := fmt.Errorf("middle: %w", root)
	top := &wrapped{inner: err}

	d := newDispatcher(Options{})
	viz, ok := d.Best(top)
	if !ok || viz.Label() != "exception" {
		t.Fatalf("expected exception visualizer, got %v", viz)
	}

	rc := &RenderContext{}
	html, rerr := d.Render(rc, viz, top)
	if rerr != nil {
		t.Fatal(rerr)
	}
	targets := rc.Targets()
	if len(targets) != 1 || targets[0].Label != "cause" || targets[0].Value != error(err) {
		t.Fatalf("unexpected targets %#v", targets)
	}
	if !strings.Contains(string(html), "*visualizer.wrapped") {
		t.Errorf("expected Go type in output: %s", html)
	}
	if !strings.Contains(string(html), "root cause") {
		t.Errorf("expected chain in output: %s", html)
	}
}

func TestExceptionJoinedCauses(t *testing.T) {
	joined := errors.Join(errors.New("a"), errors.New("b"))
	rc := &RenderContext{}
	if _, err := (&Exception{}).Render(rc, joined); err != nil {
		t.Fatal(err)
	}
	targets := rc.Targets()
	if len(targets) != 2 || targets[0].Label != "cause[0]" || targets[1].Label != "cause[1]" {
		t.Errorf("unexpected targets %#v", targets)
	}
}

func TestScalarDoesNotClaimErrors(t *testing.T) {
	if (Scalar{}).Supports(errors.New("x")) {
		t.Error("scalar must leave errors to the exception visualizer")
	}
	for _, v := range []any{nil, "s", 1, uint8(2), 3.5, true} {
		if !(Scalar{}).Supports(v) {
			t.Errorf("expected scalar to support %T", v)
		}
	}
}

func TestChart(t *testing.T) {
	c := &Chart{SampleSize: DefaultSampleSize}
	if !c.Supports([]float64{1, 2, 3}) {
		t.Error("expected numeric slice to be supported")
	}
	if c.Supports([]any{1}) {
		t.Error("expected single point to be rejected")
	}
	if c.Supports([]any{1, "x"}) {
		t.Error("expected mixed head to be rejected")
	}
	if c.Supports([]byte("abc")) {
		t.Error("expected byte slices to be rejected")
	}

	html, err := c.Render(&RenderContext{}, []any{1, 4, 9, 16})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(string(html), "<svg") {
		t.Errorf("expected inline svg, got %.200s", html)
	}
	if !strings.Contains(string(html), "4 points") {
		t.Errorf("expected point summary, got %.200s", html)
	}

	if _, err := c.Render(&RenderContext{}, []any{5, 5, 5}); err != nil {
		t.Errorf("flat series should render, got %v", err)
	}
}

func TestFileVisualizer(t *testing.T) {
	store := download.NewStore(0)
	d := newDispatcher(Options{Downloads: store})
	blob := download.NewBlob("report.csv", []byte("a,b\n"))

	viz, ok := d.Best(blob)
	if !ok || viz.Label() != "file" {
		t.Fatalf("expected file visualizer, got %v", viz)
	}

	rc := &RenderContext{Prefix: "/viz", Downloads: store}
	html, err := d.Render(rc, viz, blob)
	if err != nil {
		t.Fatal(err)
	}
	token, _ := store.Issue(blob)
	want := "/viz/file-visualizer/download?id=" + token
	if !strings.Contains(string(html), want) {
		t.Errorf("expected link %s in %s", want, html)
	}

	// Rendering again reuses the outstanding token.
	if _, err := d.Render(rc, viz, blob); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Errorf("expected one outstanding token, got %d", store.Len())
	}

	routes := d.Registry().Routes()
	if len(routes) != 1 || routes[0].Pattern != FileDownloadPath {
		t.Errorf("unexpected routes %#v", routes)
	}
}

func TestRegisterDefaults(t *testing.T) {
	all := RegisterDefaults(Options{Downloads: download.NewStore(0)})
	if len(all) != len(DefaultOrder) {
		t.Fatalf("expected %d strategies, got %d", len(DefaultOrder), len(all))
	}
	for i, v := range all {
		if v.Label() != DefaultOrder[i] {
			t.Errorf("position %d: got %s want %s", i, v.Label(), DefaultOrder[i])
		}
	}

	some := RegisterDefaults(Options{Strategies: map[string]StrategyOptions{
		"chart": {Enabled: false},
		"table": {Enabled: true, Options: map[string]any{"page_size": 7}},
	}})
	for _, v := range some {
		if v.Label() == "chart" || v.Label() == "file" {
			t.Errorf("unexpected strategy %s", v.Label())
		}
		if tbl, ok := v.(*Table); ok && tbl.PageSize != 7 {
			t.Errorf("expected page size 7, got %d", tbl.PageSize)
		}
	}
}

func TestValidateStrategies(t *testing.T) {
	if err := ValidateStrategies([]string{"map", "table"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateStrategies([]string{"vega"}); err == nil {
		t.Error("expected unknown strategy to be rejected")
	}
}

func TestPreview(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, "nil"},
		{"abc", "abc"},
		{map[string]any{"a": 1}, "{1 entry}"},
		{[]int{1, 2}, "[2 items]"},
		{errors.New("bad"), "bad"},
		{strings.Repeat("x", 10), "xxxx…"},
	}
	for _, c := range cases {
		max := 0
		if c.want == "xxxx…" {
			max = 4
		}
		if got := Preview(c.in, max); got != c.want {
			t.Errorf("Preview(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
