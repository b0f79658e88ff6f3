// Package visualizer picks and runs rendering strategies for arbitrary evaluated values.
//
// A Visualizer is a pluggable strategy: it says whether it can display a value, how
// strongly it claims it, and renders it as an HTML fragment. The Registry holds the
// strategies in a fixed order and the Dispatcher selects among them.
package visualizer

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/zeitstein/REPLey/internal/download"
	"github.com/zeitstein/REPLey/internal/navigation"
)

const (
	// PrecedenceGeneric marks a fallback strategy.
	PrecedenceGeneric = 0
	// PrecedenceAuthoritative marks a strategy built for one specific type.
	PrecedenceAuthoritative = 100
)

// Visualizer is the capability every rendering strategy implements.
//
// Label, Supports and Precedence run synchronously while the UI is built: they must not
// block, allocate heavily or have side effects. Render may register navigation
// targets or download tokens through the RenderContext.
type Visualizer interface {
	Label() string
	Supports(v any) bool
	Precedence() int
	Render(rc *RenderContext, v any) (template.HTML, error)
}

// SideChannel is implemented by strategies that serve extra HTTP endpoints, such as
// downloads. The pattern is relative to the host's side-channel prefix.
type SideChannel interface {
	Handler() (pattern string, h http.Handler)
}

// ErrNoDownloads is returned when a strategy needs a download store the host did not wire.
var ErrNoDownloads = errors.New("visualizer: download store unavailable")

// RenderError is a failure inside the chosen strategy's Render. It is shown to the user
// in place of the value.
type RenderError struct {
	Visualizer string
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("visualizer %s: render failed: %v", e.Visualizer, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// RenderContext carries the state one render may touch: the owning result, the
// download store, and the click targets it registers.
type RenderContext struct {
	// ResultID is the identity of the top-level result being displayed.
	ResultID string
	// Filter narrows row-oriented views. Empty means no filtering.
	Filter string
	// Viz is the visualizer pinned for the result, echoed by forms that reload the view.
	Viz string
	// Prefix is where side-channel handlers are mounted, e.g. "/viz".
	Prefix string
	// Downloads issues tokens for download links. May be nil.
	Downloads *download.Store
	// LinkFor builds the URL activating click target i. Nil yields "#" links.
	LinkFor func(target int) string

	targets []navigation.Frame
}

// Target registers a drill-down target and returns the URL that activates it.
func (rc *RenderContext) Target(label string, value any) string {
	rc.targets = append(rc.targets, navigation.Frame{Label: label, Value: value})
	if rc.LinkFor == nil {
		return "#"
	}
	return rc.LinkFor(len(rc.targets) - 1)
}

// Targets returns the targets registered so far, in registration order.
func (rc *RenderContext) Targets() []navigation.Frame {
	out := make([]navigation.Frame, len(rc.targets))
	copy(out, rc.targets)
	return out
}

// DownloadURL issues (or reuses) a token for r and returns the side-channel URL for it.
func (rc *RenderContext) DownloadURL(r download.Resource) (string, error) {
	if rc.Downloads == nil {
		return "", ErrNoDownloads
	}
	token, err := rc.Downloads.Issue(r)
	if err != nil {
		return "", err
	}
	return rc.Prefix + FileDownloadPath + "?" + download.TokenParam + "=" + url.QueryEscape(token), nil
}
