package ui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"

	"github.com/zeitstein/REPLey/internal/app"
	"github.com/zeitstein/REPLey/internal/navigation"
	"github.com/zeitstein/REPLey/internal/session"
	"github.com/zeitstein/REPLey/internal/visualizer"
)

// sessionID returns the caller's session, creating one and setting the cookie when the
// request carries none or an expired one.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	name := s.app.Config.HTTP.CookieName()
	existing := ""
	if c, err := r.Cookie(name); err == nil {
		existing = c.Value
	}
	sid, created := s.app.Sessions.GetOrCreate(existing)
	if created {
		s.setSessionCookie(w, sid)
	}
	return sid
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.app.Config.HTTP.CookieName(),
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// handleAttach binds the browser to an existing session, e.g. one started from the
// terminal REPL, and shows its current result.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	info, ok := s.app.Sessions.Get(r.PathValue("sid"))
	if !ok {
		s.fail(w, session.ErrNotFound)
		return
	}
	s.setSessionCookie(w, info.ID)
	target := "/"
	if info.ResultID != "" {
		target = "/r/" + info.ResultID
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// viewModel is the data of the "view" template.
type viewModel struct {
	RID        string
	Result     *session.Result
	Crumbs     []navigation.Crumb
	Applicable []string
	Visualizer string
	Filter     string
	HTML       template.HTML
	Err        error
	Empty      bool
	Type       string
}

type pageModel struct {
	Title     string
	Name      string
	CSS       template.CSS
	Expr      string
	Languages []string
	Notice    string
	View      *viewModel
}

func (s *Server) page(notice string) pageModel {
	return pageModel{
		Title:     s.app.Config.Server.Name,
		Name:      s.app.Config.Server.Name,
		CSS:       visualizer.Stylesheet(),
		Languages: s.app.Evaluator.Languages(),
		Notice:    notice,
	}
}

func toViewModel(v *app.View, filter string) *viewModel {
	return &viewModel{
		Filter:     filter,
		RID:        v.Result.ID,
		Result:     v.Result,
		Crumbs:     v.Breadcrumbs,
		Applicable: v.Applicable,
		Visualizer: v.Visualizer,
		HTML:       v.HTML,
		Err:        v.Err,
		Empty:      v.Empty(),
		Type:       fmt.Sprintf("%T", v.Value),
	}
}

func descendLink(rid string) func(gen, target int) string {
	return func(gen, target int) string {
		return fmt.Sprintf("/r/%s/descend?g=%d&t=%d", rid, gen, target)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	info, _ := s.app.Sessions.Get(sid)
	if info.ResultID != "" {
		http.Redirect(w, r, "/r/"+info.ResultID, http.StatusSeeOther)
		return
	}
	s.renderPage(w, http.StatusOK, s.page(""))
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	res, err := s.app.Evaluate(r.Context(), sid, r.PostFormValue("expr"))
	if err != nil {
		s.fail(w, err)
		return
	}
	http.Redirect(w, r, "/r/"+res.ID, http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request) (*app.View, bool) {
	sid := s.sessionID(w, r)
	rid := r.PathValue("rid")
	q := r.URL.Query()
	view, err := s.app.Render(r.Context(), sid, rid, app.RenderOptions{
		Viz:     q.Get("viz"),
		Filter:  q.Get("filter"),
		LinkFor: descendLink(rid),
	})
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return view, true
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	view, ok := s.render(w, r)
	if !ok {
		return
	}
	p := s.page("")
	p.Title = s.app.Config.Server.Name + ": " + view.Result.Expr
	p.Expr = view.Result.Expr
	p.View = toViewModel(view, r.URL.Query().Get("filter"))
	s.renderPage(w, http.StatusOK, p)
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	view, ok := s.render(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "view", toViewModel(view, r.URL.Query().Get("filter"))); err != nil {
		log.Printf("ui: fragment template: %v", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleDescend(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	rid := r.PathValue("rid")
	gen, err1 := strconv.Atoi(r.URL.Query().Get("g"))
	target, err2 := strconv.Atoi(r.URL.Query().Get("t"))
	if err1 != nil || err2 != nil {
		http.Error(w, "g and t must be integers", http.StatusBadRequest)
		return
	}
	if _, err := s.app.Descend(r.Context(), sid, rid, gen, target); err != nil {
		s.fail(w, err)
		return
	}
	http.Redirect(w, r, "/r/"+rid, http.StatusSeeOther)
}

func (s *Server) handleAscend(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	rid := r.PathValue("rid")
	idx, err := strconv.Atoi(r.URL.Query().Get("i"))
	if err != nil {
		http.Error(w, "i must be an integer", http.StatusBadRequest)
		return
	}
	if err := s.app.Ascend(r.Context(), sid, rid, idx); err != nil {
		s.fail(w, err)
		return
	}
	http.Redirect(w, r, "/r/"+rid, http.StatusSeeOther)
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	info, _ := s.app.Sessions.Get(sid)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleVisualizers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"visualizers": s.app.Labels(),
		"languages":   s.app.Evaluator.Languages(),
	})
}

// statusFor maps inspector errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSuperseded):
		return http.StatusGone
	case errors.Is(err, session.ErrStaleTargets):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownTarget), errors.Is(err, navigation.ErrOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("ui: %v", err)
	}
	http.Error(w, err.Error(), code)
}

func (s *Server) renderPage(w http.ResponseWriter, code int, p pageModel) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "page", p); err != nil {
		log.Printf("ui: page template: %v", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ui: encode response: %v", err)
	}
}
