package mangle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zeitstein/REPLey/internal/config"
)

func newTestEngine(t *testing.T, limit int) *Engine {
	t.Helper()
	engine, err := NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: limit})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestEngineBuiltinSchema(t *testing.T) {
	engine := newTestEngine(t, 100)
	if !engine.Ready() {
		t.Fatal("engine not ready after builtin schema load")
	}

	want := map[string]bool{
		"evaluated/3":   false,
		"dispatched/3":  false,
		"navigated/3":   false,
		"downloaded/2":  false,
		"viewed_with/2": false,
		"explored/1":    false,
	}
	for _, p := range engine.Predicates() {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, seen := range want {
		if !seen {
			t.Errorf("expected predicate %s in schema", p)
		}
	}
}

func TestEngineQueryBaseFacts(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()

	facts := []Fact{
		{Predicate: "evaluated", Args: []interface{}{"s1", "r1", "yaml"}, Timestamp: time.Now()},
		{Predicate: "evaluated", Args: []interface{}{"s1", "r2", "toml"}, Timestamp: time.Now()},
		{Predicate: "dispatched", Args: []interface{}{"r1", "map", 0}, Timestamp: time.Now()},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Query(ctx, "evaluated(S, R, L)")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 bindings, got %d: %v", len(results), results)
	}
	for _, r := range results {
		if r["S"] != "s1" {
			t.Errorf("expected S bound to s1, got %v", r["S"])
		}
	}

	results, err = engine.Query(ctx, `evaluated(S, "r2", L).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0]["L"] != "toml" {
		t.Errorf("expected one toml binding, got %v", results)
	}

	results, err = engine.Query(ctx, "dispatched(R, V, P)")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0]["P"] != int64(0) {
		t.Errorf("expected numeric precedence binding, got %v", results)
	}
}

func TestEngineDerivedFacts(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()

	engine.Sink(ctx, "evaluated", "s1", "r1", "yaml")
	engine.Sink(ctx, "dispatched", "r1", "table", 0)
	engine.Sink(ctx, "navigated", "r1", "descend", 2)
	engine.Sink(ctx, "downloaded", "r1", "report.csv")

	viewed, err := engine.Evaluate(ctx, "viewed_with")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(viewed) != 1 || viewed[0].Args[1] != "table" {
		t.Errorf("expected viewed_with(r1, table), got %v", viewed)
	}

	explored, err := engine.Query(ctx, "explored(R)")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(explored) != 1 || explored[0]["R"] != "r1" {
		t.Errorf("expected explored(r1), got %v", explored)
	}

	downloads, err := engine.Query(ctx, "session_download(S, N)")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(downloads) != 1 || downloads[0]["N"] != "report.csv" {
		t.Errorf("expected session_download(s1, report.csv), got %v", downloads)
	}
}

func TestEngineBufferLimit(t *testing.T) {
	engine := newTestEngine(t, 3)
	ctx := context.Background()

	engine.Sink(ctx, "dispatched", "r0", "map", 0)
	for i := 0; i < 4; i++ {
		engine.Sink(ctx, "evaluated", "s1", "r", "yaml")
	}

	if n := len(engine.Facts()); n != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", n)
	}
	if n := len(engine.FactsByPredicate("dispatched")); n != 0 {
		t.Errorf("expected oldest fact evicted, got %d dispatched facts", n)
	}
	viewed, err := engine.Evaluate(ctx, "viewed_with")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(viewed) != 0 {
		t.Errorf("derived facts must not outlive their base facts, got %v", viewed)
	}
}

func TestEngineQueryTemporal(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var facts []Fact
	for i := 0; i < 5; i++ {
		facts = append(facts, Fact{
			Predicate: "navigated",
			Args:      []interface{}{"r1", "descend", i},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatal(err)
	}

	got := engine.QueryTemporal("navigated", base, base.Add(4*time.Minute))
	if len(got) != 3 {
		t.Errorf("expected 3 facts strictly inside the window, got %d", len(got))
	}
	if all := engine.QueryTemporal("navigated", time.Time{}, time.Time{}); len(all) != 5 {
		t.Errorf("expected open window to return all 5, got %d", len(all))
	}
	if none := engine.QueryTemporal("unknown", time.Time{}, time.Time{}); len(none) != 0 {
		t.Errorf("expected no facts for unknown predicate, got %d", len(none))
	}
}

func TestEngineDisabled(t *testing.T) {
	engine, err := NewEngine(config.MangleConfig{Enable: false})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ctx := context.Background()

	if err := engine.Emit(ctx, "evaluated", "s", "r", "yaml"); err != nil {
		t.Errorf("disabled engine should accept facts silently: %v", err)
	}
	if len(engine.Facts()) != 0 {
		t.Error("disabled engine should not buffer facts")
	}
	if _, err := engine.Query(ctx, "evaluated(S, R, L)"); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if _, err := engine.Evaluate(ctx, "explored"); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestEngineErrors(t *testing.T) {
	engine := newTestEngine(t, 10)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
	}{
		{"empty", "   "},
		{"unterminated", "dispatched(R, "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := engine.Query(ctx, tt.query); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := engine.Evaluate(ctx, "no_such_predicate"); err == nil {
		t.Error("expected error for unknown predicate")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := engine.Emit(cancelled, "evaluated", "s", "r", "yaml"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEngineLoadSchemaFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.mg")
	schema := "Decl evaluated(Session, Result, Lang).\nyaml_result(R) :- evaluated(_, R, \"yaml\").\n"
	if err := os.WriteFile(path, []byte(schema), 0644); err != nil {
		t.Fatal(err)
	}

	engine, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: path})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ctx := context.Background()
	engine.Sink(ctx, "evaluated", "s1", "r1", "yaml")
	engine.Sink(ctx, "evaluated", "s1", "r2", "toml")

	results, err := engine.Query(ctx, "yaml_result(R)")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0]["R"] != "r1" {
		t.Errorf("expected yaml_result(r1), got %v", results)
	}

	if _, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: filepath.Join(dir, "missing.mg")}); err == nil {
		t.Error("expected error for missing schema")
	}
}

func TestConvertConstantRoundTrip(t *testing.T) {
	tests := []struct {
		in   interface{}
		want interface{}
	}{
		{"text", "text"},
		{7, int64(7)},
		{int64(-3), int64(-3)},
		{2.5, 2.5},
		{true, "true"},
		{[]int{1}, "[1]"},
	}
	for _, tt := range tests {
		if got := convertConstant(toConstant(tt.in)); got != tt.want {
			t.Errorf("round trip of %v: got %v (%T), want %v", tt.in, got, got, tt.want)
		}
	}
}
