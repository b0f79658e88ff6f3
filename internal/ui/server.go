// Package ui serves the browser front end of the inspector: an evaluation form, the
// rendered current frame of the session's result, navigation endpoints and the
// visualizers' side channels.
package ui

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/zeitstein/REPLey/internal/app"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Server is the HTTP front end over an App.
type Server struct {
	app *app.App
	mux *http.ServeMux
}

// NewServer registers every route on a fresh mux.
func NewServer(a *app.App) *Server {
	s := &Server{app: a, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /eval", s.handleEval)
	s.mux.HandleFunc("GET /r/{rid}", s.handleResult)
	s.mux.HandleFunc("GET /r/{rid}/fragment", s.handleFragment)
	s.mux.HandleFunc("POST /r/{rid}/descend", s.handleDescend)
	s.mux.HandleFunc("POST /r/{rid}/ascend", s.handleAscend)
	s.mux.HandleFunc("GET /attach/{sid}", s.handleAttach)
	s.mux.HandleFunc("GET /api/session", s.handleSessionInfo)
	s.mux.HandleFunc("GET /api/visualizers", s.handleVisualizers)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": s.app.Sessions.Len(),
			"tokens":   s.app.Downloads.Len(),
		})
	})

	prefix := s.app.Config.HTTP.Prefix()
	for _, route := range s.app.Registry.Routes() {
		s.mux.Handle(prefix+route.Pattern, route.Handler)
		log.Printf("Side channel %s%s mounted for visualizer %s", prefix, route.Pattern, route.Visualizer)
	}
}

// Handler returns the root handler, speaking cleartext HTTP/2 as well when enabled.
func (s *Server) Handler() http.Handler {
	if s.app.Config.HTTP.EnableH2C {
		return h2c.NewHandler(s.mux, &http2.Server{})
	}
	return s.mux
}

// ListenAndServe serves on the configured address until ctx is cancelled, sweeping
// idle sessions and expired tokens in the background.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.app.Config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.app.Config.HTTP.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.app.RunSweeper(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Inspector shutdown error: %v", err)
		}
	}()

	log.Printf("Inspector listening on http://%s (h2c=%v)", ln.Addr(), s.app.Config.HTTP.EnableH2C)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
