package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeitstein/REPLey/internal/app"
)

// resolveSession returns args' session_id, creating a session when none is given or the
// given one expired.
func resolveSession(a *app.App, args map[string]interface{}) (sid string, created bool) {
	return a.Sessions.GetOrCreate(getStringArg(args, "session_id"))
}

// resolveResult returns args' result_id, defaulting to the session's current result.
func resolveResult(a *app.App, sid string, args map[string]interface{}) (string, error) {
	if rid := getStringArg(args, "result_id"); rid != "" {
		return rid, nil
	}
	info, ok := a.Sessions.Get(sid)
	if !ok {
		return "", fmt.Errorf("session %s not found", sid)
	}
	if info.ResultID == "" {
		return "", errors.New("session has no result yet: call evaluate first")
	}
	return info.ResultID, nil
}

func sessionArgSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Session ID from evaluate or create-session",
	}
}

type ListSessionsTool struct {
	app *app.App
}

func (t *ListSessionsTool) Name() string { return "list-sessions" }
func (t *ListSessionsTool) Description() string {
	return `List live inspector sessions, most recently active first.

Returns: Array of {id, result_id, lang, depth, created_at, last_active}.`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListSessionsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"sessions": t.app.Sessions.List()}, nil
}

type CreateSessionTool struct {
	app *app.App
}

func (t *CreateSessionTool) Name() string { return "create-session" }
func (t *CreateSessionTool) Description() string {
	return `Create an empty inspector session.

Sessions keep one current result and the navigation path into it. evaluate creates a
session on demand, so this is only needed to keep several results side by side.

Returns: {session_id}`
}
func (t *CreateSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *CreateSessionTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"session_id": t.app.Sessions.Create()}, nil
}

type EvaluateTool struct {
	app *app.App
}

func (t *EvaluateTool) Name() string { return "evaluate" }
func (t *EvaluateTool) Description() string {
	return `Evaluate an expression and make it the session's current result.

LANGUAGES (prefix the expression, default yaml which also accepts JSON):
- yaml: / JSON literal
- toml: a = 1
- range: 10 or range: 2..5
- file: /path/to/file (offered as a download)
- error: outer <- inner <- root (an error chain)
- query: explored(R) (activity facts)

A parse failure is not a tool error: the error becomes the result and is shown by the
exception visualizer.

Returns: the rendered first frame {session_id, result_id, visualizer, applicable,
targets, generation, preview}. Pass generation and a target index to descend.`
}
func (t *EvaluateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"expr": map[string]interface{}{
				"type":        "string",
				"description": "Expression to evaluate",
			},
			"session_id": sessionArgSchema(),
			"include_html": map[string]interface{}{
				"type":        "boolean",
				"description": "Include the rendered HTML fragment (default: false)",
			},
		},
		"required": []string{"expr"},
	}
}
func (t *EvaluateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	expr := getStringArg(args, "expr")
	if expr == "" {
		return nil, errors.New("expr is required")
	}
	sid, _ := resolveSession(t.app, args)

	res, err := t.app.Evaluate(ctx, sid, expr)
	if err != nil {
		return nil, err
	}
	view, err := t.app.Render(ctx, sid, res.ID, app.RenderOptions{})
	if err != nil {
		return nil, err
	}
	return viewPayload(view, getBoolArg(args, "include_html", false)), nil
}

type ListVisualizersTool struct {
	app *app.App
}

func (t *ListVisualizersTool) Name() string { return "list-visualizers" }
func (t *ListVisualizersTool) Description() string {
	return `List registered visualizers in registration order, which is also the tie-break
between visualizers of equal precedence.

Returns: {visualizers: [label...], languages: [prefix...]}`
}
func (t *ListVisualizersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListVisualizersTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"visualizers": t.app.Labels(),
		"languages":   t.app.Evaluator.Languages(),
	}, nil
}
