package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zeitstein/REPLey/internal/app"
	"github.com/zeitstein/REPLey/internal/visualizer"
)

var (
	accent = lipgloss.Color("#50E3C2")
	amber  = lipgloss.Color("#F6AE2D")
	muted  = lipgloss.Color("#8CA1AE")
	warn   = lipgloss.Color("#FF6B6B")

	vizStyle    = lipgloss.NewStyle().Bold(true).Foreground(accent)
	trailStyle  = lipgloss.NewStyle().Foreground(amber)
	mutedStyle  = lipgloss.NewStyle().Foreground(muted)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(warn)
	indexStyle  = lipgloss.NewStyle().Foreground(accent).Width(4).Align(lipgloss.Right)
	labelStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Underline(true)
)

const helpText = `expressions are evaluated and become the current result (prefix with lang:, default yaml)
  :d N, :down N     descend into target N
  :up [i]           back to breadcrumb i (default: the parent)
  :top              back to the root value
  :viz [label]      list applicable visualizers or pin one ("auto" to unpin)
  :filter [text]    filter table rows (empty clears)
  :download         issue a download link for the current value
  :open             link that attaches a browser to this session
  :facts query      run an activity query, e.g. :facts explored(R)
  :help, :quit`

// parseCommand splits a ":name arg" line. ok is false for plain expressions.
func parseCommand(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

// repl is one terminal session over an App.
type repl struct {
	app  *app.App
	sid  string
	base string
	out  io.Writer

	view   *app.View
	filter string
}

func newREPL(a *app.App, base string, out io.Writer) *repl {
	return &repl{app: a, sid: a.Sessions.Create(), base: base, out: out}
}

// exec runs one line of input and reports whether the user asked to quit.
func (r *repl) exec(ctx context.Context, line string) (quit bool, err error) {
	name, arg, isCmd := parseCommand(line)
	if !isCmd {
		if strings.TrimSpace(line) == "" {
			return false, nil
		}
		// the session may have been swept while the terminal sat idle
		r.sid, _ = r.app.Sessions.GetOrCreate(r.sid)
		res, err := r.app.Evaluate(ctx, r.sid, line)
		if err != nil {
			return false, err
		}
		r.filter = ""
		return false, r.render(ctx, res.ID, "")
	}

	switch name {
	case "q", "quit", "exit":
		return true, nil
	case "help", "h", "?":
		fmt.Fprintln(r.out, mutedStyle.Render(helpText))
		return false, nil
	case "langs":
		fmt.Fprintln(r.out, strings.Join(r.app.Evaluator.Languages(), " "))
		return false, nil
	case "facts":
		return false, r.facts(ctx, arg)
	}

	if r.view == nil {
		return false, errors.New("nothing evaluated yet")
	}
	rid := r.view.Result.ID

	switch name {
	case "d", "down":
		t, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("target index expected, got %q", arg)
		}
		if _, err := r.app.Descend(ctx, r.sid, rid, r.view.Generation, t); err != nil {
			return false, err
		}
		r.filter = ""
		return false, r.render(ctx, rid, "")
	case "up":
		i := len(r.view.Breadcrumbs) - 1
		if arg != "" {
			if i, err = strconv.Atoi(arg); err != nil {
				return false, fmt.Errorf("breadcrumb index expected, got %q", arg)
			}
		}
		if i < 0 {
			i = 0
		}
		if err := r.app.Ascend(ctx, r.sid, rid, i); err != nil {
			return false, err
		}
		r.filter = ""
		return false, r.render(ctx, rid, "")
	case "top":
		if err := r.app.Ascend(ctx, r.sid, rid, 0); err != nil {
			return false, err
		}
		r.filter = ""
		return false, r.render(ctx, rid, "")
	case "viz":
		if arg == "" {
			fmt.Fprintf(r.out, "%s %s\n", vizStyle.Render(r.view.Visualizer), mutedStyle.Render(strings.Join(r.view.Applicable, " ")))
			return false, nil
		}
		return false, r.render(ctx, rid, arg)
	case "filter":
		r.filter = arg
		return false, r.render(ctx, rid, "")
	case "download":
		_, link, err := r.app.IssueDownload(r.sid, rid)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, r.url(link))
		return false, nil
	case "open":
		fmt.Fprintln(r.out, r.url("/attach/"+r.sid))
		return false, nil
	default:
		return false, fmt.Errorf("unknown command :%s (try :help)", name)
	}
}

func (r *repl) render(ctx context.Context, rid, viz string) error {
	view, err := r.app.Render(ctx, r.sid, rid, app.RenderOptions{Viz: viz, Filter: r.filter})
	if err != nil {
		return err
	}
	r.view = view
	fmt.Fprint(r.out, formatView(view, r.app.Config.Visualizers.PreviewLen))
	return nil
}

func (r *repl) facts(ctx context.Context, query string) error {
	if query == "" {
		return errors.New("usage: :facts predicate(Args...)")
	}
	rows, err := r.app.Engine.Query(ctx, query)
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Fprintln(r.out, row)
	}
	fmt.Fprintln(r.out, mutedStyle.Render(fmt.Sprintf("%d rows", len(rows))))
	return nil
}

func (r *repl) url(path string) string {
	if r.base == "" {
		return path + mutedStyle.Render("  (inspector not serving)")
	}
	return r.base + path
}

// formatView renders a view for the terminal: trail, visualizer, the value and its
// numbered click targets.
func formatView(v *app.View, previewLen int) string {
	var b strings.Builder

	crumbs := []string{"root"}
	for _, c := range v.Breadcrumbs {
		crumbs = append(crumbs, fmt.Sprintf("%d:%s", c.Index, c.Label))
	}
	b.WriteString(trailStyle.Render(strings.Join(crumbs, " > ")))
	b.WriteByte('\n')

	switch {
	case v.Err != nil:
		b.WriteString(errorStyle.Render("render failed: " + v.Err.Error()))
		b.WriteByte('\n')
		return b.String()
	case v.Empty():
		b.WriteString(mutedStyle.Render(fmt.Sprintf("no visualizer for %T", v.Value)))
		b.WriteByte('\n')
		return b.String()
	}

	b.WriteString(vizStyle.Render(v.Visualizer))
	if len(v.Applicable) > 1 {
		b.WriteString(mutedStyle.Render("  also: " + strings.Join(others(v.Applicable, v.Visualizer), ", ")))
	}
	b.WriteByte('\n')

	if err, ok := v.Value.(error); ok {
		b.WriteString(errorStyle.Render(err.Error()))
		for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
			b.WriteByte('\n')
			b.WriteString(mutedStyle.Render("  caused by: " + cause.Error()))
		}
	} else {
		b.WriteString(visualizer.Preview(v.Value, previewLen))
	}
	b.WriteByte('\n')

	if len(v.Targets) > 0 {
		b.WriteString(headerStyle.Render("targets"))
		b.WriteByte('\n')
		for i, t := range v.Targets {
			fmt.Fprintf(&b, "%s  %s  %s\n",
				indexStyle.Render(strconv.Itoa(i)),
				labelStyle.Render(t.Label),
				mutedStyle.Render(visualizer.Preview(t.Value, previewLen)))
		}
	}
	return b.String()
}

func others(labels []string, chosen string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != chosen {
			out = append(out, l)
		}
	}
	return out
}
