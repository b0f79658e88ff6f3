// Package app wires the inspector's collaborators together: evaluation, sessions,
// visualizer dispatch, download tokens, the activity engine, the trace recorder and
// the screenshot previewer. The HTTP UI, the MCP tools and the terminal REPL all drive
// the inspector through an *App.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/zeitstein/REPLey/internal/browser"
	"github.com/zeitstein/REPLey/internal/config"
	"github.com/zeitstein/REPLey/internal/download"
	"github.com/zeitstein/REPLey/internal/eval"
	"github.com/zeitstein/REPLey/internal/mangle"
	"github.com/zeitstein/REPLey/internal/navigation"
	"github.com/zeitstein/REPLey/internal/recorder"
	"github.com/zeitstein/REPLey/internal/session"
	"github.com/zeitstein/REPLey/internal/visualizer"
)

// Auto clears a pinned visualizer choice.
const Auto = "auto"

var (
	// ErrNotDownloadable is returned when the current value is not a download resource.
	ErrNotDownloadable = errors.New("current value is not downloadable")
	// ErrNoPreviewer is returned by Snapshot when the browser previewer is disabled.
	ErrNoPreviewer = errors.New("browser previewer disabled")
)

// App is the shared state of one running inspector.
type App struct {
	Config     config.Config
	Downloads  *download.Store
	Registry   *visualizer.Registry
	Dispatcher *visualizer.Dispatcher
	Engine     *mangle.Engine
	Recorder   *recorder.Recorder
	Sessions   *session.Manager
	Evaluator  *eval.Evaluator
	Previewer  *browser.Previewer

	mu sync.Mutex
	// resource handle -> result id, so served downloads can be attributed.
	handles map[string]string
}

// New builds an App from cfg. extra strategies are registered after the built-in ones.
func New(cfg config.Config, extra ...visualizer.Visualizer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	strategies := make(map[string]visualizer.StrategyOptions, len(cfg.Visualizers.Strategies))
	names := make([]string, 0, len(cfg.Visualizers.Strategies))
	for name, vc := range cfg.Visualizers.Strategies {
		names = append(names, name)
		strategies[name] = visualizer.StrategyOptions{Enabled: vc.IsEnabled(), Options: vc.Options}
	}
	sort.Strings(names)
	if err := visualizer.ValidateStrategies(names); err != nil {
		return nil, fmt.Errorf("visualizers.strategies: %w", err)
	}

	engine, err := mangle.NewEngine(cfg.Mangle)
	if err != nil {
		return nil, fmt.Errorf("mangle engine: %w", err)
	}

	a := &App{
		Config:    cfg,
		Downloads: download.NewStore(cfg.Downloads.TTL()),
		Engine:    engine,
		Sessions:  session.NewManager(cfg.HTTP.IdleTTL()),
		handles:   make(map[string]string),
	}

	if cfg.Mangle.Enable {
		a.Evaluator = eval.New(eval.Options{Query: engine, Roots: cfg.Downloads.Roots})
	} else {
		a.Evaluator = eval.New(eval.Options{Roots: cfg.Downloads.Roots})
	}

	vs := visualizer.RegisterDefaults(visualizer.Options{
		SampleSize: cfg.Visualizers.SampleSize,
		PreviewLen: cfg.Visualizers.PreviewLen,
		Strategies: strategies,
		Downloads:  a.Downloads,
		OnDownload: a.observeDownload,
	})
	a.Registry = visualizer.NewRegistry(append(vs, extra...)...)
	a.Dispatcher = visualizer.NewDispatcher(a.Registry)

	if cfg.Recorder.Enabled {
		rec, err := recorder.NewRecorder(cfg.Recorder.Dir, cfg.Recorder.GetMaxRotatedFiles())
		if err != nil {
			return nil, err
		}
		if err := rec.Start(cfg.Server.Name); err != nil {
			return nil, fmt.Errorf("start trace: %w", err)
		}
		a.Recorder = rec
	}

	if cfg.Browser.Enabled {
		a.Previewer = browser.NewPreviewer(cfg.Browser)
	}

	log.Printf("Inspector ready: %d visualizers, token ttl %s, session ttl %s",
		a.Registry.Len(), cfg.Downloads.TTL(), cfg.HTTP.IdleTTL())
	return a, nil
}

// Labels lists the registered visualizers in registration order.
func (a *App) Labels() []string {
	all := a.Registry.All()
	out := make([]string, len(all))
	for i, v := range all {
		out[i] = v.Label()
	}
	return out
}

// Evaluate parses src and makes the value the current result of session sid. A parse
// failure does not fail the call: the error itself becomes the value so it can be
// inspected like any other.
func (a *App) Evaluate(ctx context.Context, sid, src string) (*session.Result, error) {
	res, err := a.Evaluator.Evaluate(ctx, src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lang, _ := a.Evaluator.Split(src)
		res = session.NewResult(src, lang, err)
		a.Recorder.Log(recorder.KindFault, sid, map[string]any{"stage": "evaluate", "error": err.Error()})
	}

	if err := a.Sessions.With(sid, func(s *session.Session) error {
		s.Replace(res)
		return nil
	}); err != nil {
		return nil, err
	}

	a.Engine.Sink(ctx, "evaluated", sid, res.ID, res.Lang)
	a.Recorder.Log(recorder.KindEvaluate, sid, map[string]any{
		"result": res.ID,
		"lang":   res.Lang,
		"expr":   res.Expr,
	})
	return res, nil
}

// RenderOptions tunes one render.
type RenderOptions struct {
	// Viz pins a visualizer for the current value. Empty keeps the session's choice;
	// Auto clears it.
	Viz string
	// Filter narrows table rows.
	Filter string
	// LinkFor builds the URL activating target of render generation gen.
	LinkFor func(gen, target int) string
}

// View is everything a front end needs to show the current frame of a result.
type View struct {
	SessionID   string
	Result      *session.Result
	Value       any
	Visualizer  string
	Precedence  int
	Applicable  []string
	HTML        template.HTML
	Err         error
	Breadcrumbs []navigation.Crumb
	Trail       string
	Generation  int
	Targets     []navigation.Frame
}

// Empty reports whether no visualizer applied to the value.
func (v *View) Empty() bool { return v.Visualizer == "" && v.Err == nil }

// Render dispatches the current frame of result rid and records the click targets the
// chosen visualizer registered. A failing visualizer is reported in View.Err; the
// returned error covers unknown sessions and superseded results only.
func (a *App) Render(ctx context.Context, sid, rid string, opts RenderOptions) (*View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var view *View
	err := a.Sessions.With(sid, func(s *session.Session) error {
		r, err := s.Result(rid)
		if err != nil {
			return err
		}
		switch opts.Viz {
		case "":
		case Auto:
			s.Choose("")
		default:
			s.Choose(opts.Viz)
		}

		cur := r.Stack.Current()
		view = &View{
			SessionID:   sid,
			Result:      r,
			Value:       cur,
			Breadcrumbs: r.Stack.Breadcrumbs(),
			Trail:       r.Stack.Trail(),
		}

		matches := a.Dispatcher.Matches(cur)
		for _, m := range matches {
			view.Applicable = append(view.Applicable, m.Label())
		}

		gen := s.NextGeneration()
		view.Generation = gen
		viz, ok := a.Dispatcher.Select(cur, s.Choice())
		if !ok {
			s.SetTargets(gen, nil)
			return nil
		}
		view.Visualizer = viz.Label()
		for _, m := range matches {
			if m.Label() == view.Visualizer {
				view.Precedence = m.Precedence
				break
			}
		}

		rc := &visualizer.RenderContext{
			ResultID:  r.ID,
			Filter:    opts.Filter,
			Viz:       s.Choice(),
			Prefix:    a.Config.HTTP.Prefix(),
			Downloads: a.Downloads,
		}
		if opts.LinkFor != nil {
			rc.LinkFor = func(t int) string { return opts.LinkFor(gen, t) }
		}
		html, rerr := a.Dispatcher.Render(rc, viz, cur)
		if res, ok := cur.(download.Resource); ok && a.Downloads.Pending(res.Handle()) {
			a.track(res.Handle(), r.ID)
		}
		if rerr != nil {
			view.Err = rerr
			s.SetTargets(gen, nil)
			return nil
		}
		view.HTML = html
		view.Targets = rc.Targets()
		s.SetTargets(gen, view.Targets)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if view.Visualizer != "" {
		a.Engine.Sink(ctx, "dispatched", rid, view.Visualizer, view.Precedence)
	}
	data := map[string]any{"result": rid, "visualizer": view.Visualizer, "targets": len(view.Targets)}
	if view.Err != nil {
		data["error"] = view.Err.Error()
		a.Recorder.Log(recorder.KindFault, sid, data)
	} else {
		a.Recorder.Log(recorder.KindRender, sid, data)
	}
	return view, nil
}

// Descend drills into target t of render generation gen.
func (a *App) Descend(ctx context.Context, sid, rid string, gen, t int) (navigation.Frame, error) {
	var (
		frame navigation.Frame
		depth int
	)
	err := a.Sessions.With(sid, func(s *session.Session) error {
		f, err := s.Descend(rid, gen, t)
		if err != nil {
			return err
		}
		frame = f
		depth = s.Current().Stack.Depth()
		return nil
	})
	if err != nil {
		return navigation.Frame{}, err
	}
	a.navigated(ctx, sid, rid, "descend", depth, frame.Label)
	return frame, nil
}

// Ascend returns to breadcrumb index i of result rid. Index 0 is the root.
func (a *App) Ascend(ctx context.Context, sid, rid string, i int) error {
	var depth int
	err := a.Sessions.With(sid, func(s *session.Session) error {
		if err := s.Ascend(rid, i); err != nil {
			return err
		}
		depth = s.Current().Stack.Depth()
		return nil
	})
	if err != nil {
		return err
	}
	a.navigated(ctx, sid, rid, "ascend", depth, "")
	return nil
}

func (a *App) navigated(ctx context.Context, sid, rid, action string, depth int, label string) {
	a.Engine.Sink(ctx, "navigated", rid, action, depth)
	data := map[string]any{"result": rid, "action": action, "depth": depth}
	if label != "" {
		data["label"] = label
	}
	a.Recorder.Log(recorder.KindNavigate, sid, data)
}

// IssueDownload hands out a token for the current value of result rid, which must be a
// download resource. It returns the token and the side-channel URL that serves it.
func (a *App) IssueDownload(sid, rid string) (token, link string, err error) {
	var res download.Resource
	err = a.Sessions.With(sid, func(s *session.Session) error {
		r, err := s.Result(rid)
		if err != nil {
			return err
		}
		v, ok := r.Stack.Current().(download.Resource)
		if !ok {
			return fmt.Errorf("%w: %T", ErrNotDownloadable, r.Stack.Current())
		}
		res = v
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return a.issue(rid, res)
}

func (a *App) issue(rid string, res download.Resource) (string, string, error) {
	token, err := a.Downloads.Issue(res)
	if err != nil {
		return "", "", err
	}
	a.track(res.Handle(), rid)
	return token, a.DownloadPath(token), nil
}

// DownloadPath is the side-channel path serving token.
func (a *App) DownloadPath(token string) string {
	return a.Config.HTTP.Prefix() + visualizer.FileDownloadPath + "?" +
		download.TokenParam + "=" + url.QueryEscape(token)
}

func (a *App) track(handle, rid string) {
	a.mu.Lock()
	a.handles[handle] = rid
	a.mu.Unlock()
}

// observeDownload attributes a served token to its result. The token is consumed
// either way, so the handle is forgotten unless a fresh token was issued meanwhile.
func (a *App) observeDownload(res download.Resource, err error) {
	handle := res.Handle()
	a.mu.Lock()
	rid := a.handles[handle]
	if !a.Downloads.Pending(handle) {
		delete(a.handles, handle)
	}
	a.mu.Unlock()

	data := map[string]any{"result": rid, "name": res.Name()}
	if err != nil {
		data["error"] = err.Error()
		a.Recorder.Log(recorder.KindFault, "", data)
		return
	}
	if rid != "" {
		a.Engine.Sink(context.Background(), "downloaded", rid, res.Name())
	}
	a.Recorder.Log(recorder.KindDownload, "", data)
}

var snapshotPage = template.Must(template.New("snapshot").Parse(
	`<!DOCTYPE html><html><head><meta charset="utf-8"><title>{{.Title}}</title>` +
		`<style>{{.CSS}}</style></head><body>{{.Body}}</body></html>`))

// Snapshot renders the current frame of rid headlessly and issues a download token for
// the PNG.
func (a *App) Snapshot(ctx context.Context, sid, rid string) (token, link string, err error) {
	if a.Previewer == nil {
		return "", "", ErrNoPreviewer
	}
	view, err := a.Render(ctx, sid, rid, RenderOptions{})
	if err != nil {
		return "", "", err
	}
	body := view.HTML
	if view.Err != nil {
		body = template.HTML("<pre>" + template.HTMLEscapeString(view.Err.Error()) + "</pre>")
	}

	var buf bytes.Buffer
	if err := snapshotPage.Execute(&buf, struct {
		Title string
		CSS   template.CSS
		Body  template.HTML
	}{view.Result.Expr, visualizer.Stylesheet(), body}); err != nil {
		return "", "", err
	}

	if err := a.Previewer.Start(ctx); err != nil {
		return "", "", err
	}
	blob, err := a.Previewer.Snapshot(ctx, "result-"+shortID(rid), buf.String())
	if err != nil {
		return "", "", err
	}
	return a.issue(rid, blob)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Sweep evicts idle sessions and expired download tokens, then forgets handles whose
// token is gone or whose result is no longer current in any session.
func (a *App) Sweep(now time.Time) (sessions, tokens int) {
	sessions = a.Sessions.Sweep(now)
	tokens = a.Downloads.Sweep(now)
	a.pruneHandles()
	return sessions, tokens
}

func (a *App) pruneHandles() {
	live := make(map[string]bool)
	for _, info := range a.Sessions.List() {
		if info.ResultID != "" {
			live[info.ResultID] = true
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for handle, rid := range a.handles {
		if !live[rid] || !a.Downloads.Pending(handle) {
			delete(a.handles, handle)
		}
	}
}

func (a *App) trackedHandles() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

// RunSweeper sweeps on the configured interval until ctx is done.
func (a *App) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(a.Config.HTTP.Sweep())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if s, t := a.Sweep(now); s+t > 0 {
				log.Printf("sweeper: evicted %d sessions, %d tokens", s, t)
			}
		}
	}
}

// Close finishes the trace and shuts the previewer down.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close recorder: %w", err))
	}
	if a.Previewer != nil {
		if err := a.Previewer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown previewer: %w", err))
		}
	}
	return errors.Join(errs...)
}
