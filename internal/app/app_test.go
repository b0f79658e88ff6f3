package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zeitstein/REPLey/internal/config"
	"github.com/zeitstein/REPLey/internal/navigation"
	"github.com/zeitstein/REPLey/internal/recorder"
	"github.com/zeitstein/REPLey/internal/session"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Recorder.Enabled = true
	cfg.Recorder.Dir = filepath.Join(t.TempDir(), "traces")
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func linkFor(gen, target int) string {
	return fmt.Sprintf("/descend?g=%d&t=%d", gen, target)
}

func TestEvaluateRenderNavigate(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	sid := a.Sessions.Create()

	res, err := a.Evaluate(ctx, sid, "foo: 1\nbar: \"<b>x</b>\"")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	view, err := a.Render(ctx, sid, res.ID, RenderOptions{LinkFor: linkFor})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if view.Visualizer != "map" || view.Err != nil {
		t.Fatalf("expected map view, got %q (%v)", view.Visualizer, view.Err)
	}
	if len(view.Targets) != 2 || view.Targets[0].Label != "bar" {
		t.Fatalf("unexpected targets %#v", view.Targets)
	}
	wantLink := fmt.Sprintf("/descend?g=%d&amp;t=0", view.Generation)
	if !strings.Contains(string(view.HTML), wantLink) {
		t.Errorf("expected link %q in %s", wantLink, view.HTML)
	}

	frame, err := a.Descend(ctx, sid, res.ID, view.Generation, 0)
	if err != nil {
		t.Fatalf("Descend failed: %v", err)
	}
	if frame.Label != "bar" {
		t.Errorf("unexpected frame %q", frame.Label)
	}
	if _, err := a.Descend(ctx, sid, res.ID, view.Generation, 0); !errors.Is(err, session.ErrStaleTargets) {
		t.Errorf("expected ErrStaleTargets for a reused link, got %v", err)
	}

	view, err = a.Render(ctx, sid, res.ID, RenderOptions{LinkFor: linkFor})
	if err != nil {
		t.Fatal(err)
	}
	if view.Visualizer != "scalar" || view.Trail != "bar;" || len(view.Breadcrumbs) != 1 {
		t.Errorf("unexpected view after descend: viz=%q trail=%q crumbs=%v", view.Visualizer, view.Trail, view.Breadcrumbs)
	}
	if strings.Contains(string(view.HTML), "<b>") {
		t.Errorf("value rendered as markup: %s", view.HTML)
	}

	if err := a.Ascend(ctx, sid, res.ID, 5); !errors.Is(err, navigation.ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	if err := a.Ascend(ctx, sid, res.ID, 0); err != nil {
		t.Fatalf("Ascend failed: %v", err)
	}
	view, err = a.Render(ctx, sid, res.ID, RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if view.Visualizer != "map" || view.Trail != "" {
		t.Errorf("expected root map after ascend, got %q trail %q", view.Visualizer, view.Trail)
	}

	rows, err := a.Engine.Query(ctx, "explored(R)")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["R"] != res.ID {
		t.Errorf("expected explored(%s), got %v", res.ID, rows)
	}
	rows, err = a.Engine.Query(ctx, "session_visualizer(S, V)")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("expected map and scalar for the session, got %v", rows)
	}
}

func TestEvaluateFailureBecomesException(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	sid := a.Sessions.Create()

	res, err := a.Evaluate(ctx, sid, "a: [1, 2")
	if err != nil {
		t.Fatalf("parse failures should not fail the call: %v", err)
	}
	if _, ok := res.Value.(error); !ok {
		t.Fatalf("expected error value, got %T", res.Value)
	}
	view, err := a.Render(ctx, sid, res.ID, RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if view.Visualizer != "exception" {
		t.Errorf("expected exception view, got %q", view.Visualizer)
	}

	if _, err := a.Evaluate(ctx, "missing", "a: 1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSupersededResult(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	sid := a.Sessions.Create()

	first, err := a.Evaluate(ctx, sid, "range: 3")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Evaluate(ctx, sid, "range: 4"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Render(ctx, sid, first.ID, RenderOptions{}); !errors.Is(err, session.ErrSuperseded) {
		t.Errorf("expected ErrSuperseded, got %v", err)
	}
	if err := a.Ascend(ctx, sid, first.ID, 0); !errors.Is(err, session.ErrSuperseded) {
		t.Errorf("expected ErrSuperseded on ascend, got %v", err)
	}
}

func TestPinnedVisualizer(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	sid := a.Sessions.Create()

	res, err := a.Evaluate(ctx, sid, "- {a: 1, b: x}\n- {a: 2, b: y}\n")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		viz  string
		want string
	}{
		{"", "table"},
		{"sequence", "sequence"},
		{"", "sequence"},
		{"nonexistent", "table"},
		{Auto, "table"},
	}
	for _, tt := range tests {
		view, err := a.Render(ctx, sid, res.ID, RenderOptions{Viz: tt.viz})
		if err != nil {
			t.Fatal(err)
		}
		if view.Visualizer != tt.want {
			t.Errorf("viz %q: got %q want %q", tt.viz, view.Visualizer, tt.want)
		}
		if len(view.Applicable) < 2 || view.Applicable[0] != "table" {
			t.Errorf("unexpected applicable list %v", view.Applicable)
		}
	}
}

func TestDownloadsAreAttributed(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	sid := a.Sessions.Create()

	path := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := a.Evaluate(ctx, sid, "file: "+path)
	if err != nil {
		t.Fatal(err)
	}
	view, err := a.Render(ctx, sid, res.ID, RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if view.Visualizer != "file" {
		t.Fatalf("expected file view, got %q", view.Visualizer)
	}

	token, link, err := a.IssueDownload(sid, res.ID)
	if err != nil {
		t.Fatalf("IssueDownload failed: %v", err)
	}
	if !strings.Contains(string(view.HTML), token) {
		t.Errorf("rendered link and issued token should agree: %s vs %s", view.HTML, token)
	}
	if !strings.HasPrefix(link, "/viz/file-visualizer/download?id=") {
		t.Errorf("unexpected link %q", link)
	}

	routes := a.Registry.Routes()
	if len(routes) != 1 {
		t.Fatalf("expected one side channel, got %d", len(routes))
	}
	rec := httptest.NewRecorder()
	routes[0].Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, link, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "hello" {
		t.Errorf("unexpected body %q", body)
	}

	rec = httptest.NewRecorder()
	routes[0].Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, link, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second resolve should 404, got %d", rec.Code)
	}

	facts := a.Engine.FactsByPredicate("downloaded")
	if len(facts) != 1 || facts[0].Args[0] != res.ID || facts[0].Args[1] != "report.txt" {
		t.Errorf("unexpected downloaded facts %v", facts)
	}

	if _, err := a.Evaluate(ctx, sid, "a: 1"); err != nil {
		t.Fatal(err)
	}
	cur, _ := a.Sessions.Get(sid)
	if _, _, err := a.IssueDownload(sid, cur.ResultID); !errors.Is(err, ErrNotDownloadable) {
		t.Errorf("expected ErrNotDownloadable, got %v", err)
	}
}

func TestDownloadHandlesAreForgotten(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	sid := a.Sessions.Create()

	path := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := a.Evaluate(ctx, sid, "file: "+path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Render(ctx, sid, res.ID, RenderOptions{}); err != nil {
		t.Fatal(err)
	}
	_, link, err := a.IssueDownload(sid, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n := a.trackedHandles(); n != 1 {
		t.Fatalf("expected one tracked handle, got %d", n)
	}

	handler := a.Registry.Routes()[0].Handler
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, link, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if n := a.trackedHandles(); n != 0 {
		t.Errorf("handle should be forgotten once its token is consumed, %d left", n)
	}

	// a token left unclaimed is forgotten once its result is superseded
	if _, err := a.Render(ctx, sid, res.ID, RenderOptions{}); err != nil {
		t.Fatal(err)
	}
	if n := a.trackedHandles(); n != 1 {
		t.Fatalf("re-render should track the fresh token, got %d", n)
	}
	if _, err := a.Evaluate(ctx, sid, "a: 1"); err != nil {
		t.Fatal(err)
	}
	a.Sweep(time.Now())
	if n := a.trackedHandles(); n != 0 {
		t.Errorf("superseded result's handle should be pruned, %d left", n)
	}
}

func TestTraceRecordsActivity(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	sid := a.Sessions.Create()

	res, err := a.Evaluate(ctx, sid, "a: 1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Render(ctx, sid, res.ID, RenderOptions{}); err != nil {
		t.Fatal(err)
	}

	events, err := recorder.ReadTrace(a.Recorder.Path())
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	if len(kinds) != 2 || kinds[0] != recorder.KindEvaluate || kinds[1] != recorder.KindRender {
		t.Errorf("unexpected trace kinds %v", kinds)
	}
	if events[0].SessionID != sid {
		t.Errorf("expected session id %s, got %s", sid, events[0].SessionID)
	}
}

func TestSweep(t *testing.T) {
	a := newTestApp(t)
	sid := a.Sessions.Create()
	if _, err := a.Evaluate(context.Background(), sid, "range: 1"); err != nil {
		t.Fatal(err)
	}

	sessions, tokens := a.Sweep(time.Now())
	if sessions != 0 || tokens != 0 {
		t.Errorf("nothing should be idle yet, got %d/%d", sessions, tokens)
	}
	sessions, _ = a.Sweep(time.Now().Add(time.Hour))
	if sessions != 1 || a.Sessions.Exists(sid) {
		t.Errorf("expected idle session to be swept, got %d", sessions)
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Visualizers.Strategies = map[string]config.VisualizerConfig{"hologram": {}}
	if _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "hologram") {
		t.Errorf("expected unknown visualizer error, got %v", err)
	}
}

func TestDisabledStrategyIsNotRegistered(t *testing.T) {
	off := false
	cfg := config.DefaultConfig()
	cfg.Visualizers.Strategies = map[string]config.VisualizerConfig{"chart": {Enabled: &off}}
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range a.Labels() {
		if l == "chart" {
			t.Errorf("chart should be disabled, got %v", a.Labels())
		}
	}
}

func TestSnapshotWithoutPreviewer(t *testing.T) {
	a := newTestApp(t)
	sid := a.Sessions.Create()
	res, err := a.Evaluate(context.Background(), sid, "a: 1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.Snapshot(context.Background(), sid, res.ID); !errors.Is(err, ErrNoPreviewer) {
		t.Errorf("expected ErrNoPreviewer, got %v", err)
	}
}
