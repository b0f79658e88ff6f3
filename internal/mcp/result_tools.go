package mcp

import (
	"context"
	"errors"

	"github.com/zeitstein/REPLey/internal/app"
	"github.com/zeitstein/REPLey/internal/session"
)

func resultArgsSchema(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"session_id": sessionArgSchema(),
		"result_id": map[string]interface{}{
			"type":        "string",
			"description": "Result ID (default: the session's current result)",
		},
		"include_html": map[string]interface{}{
			"type":        "boolean",
			"description": "Include the rendered HTML fragment (default: false)",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

func sessionRequired(args map[string]interface{}) (string, error) {
	sid := getStringArg(args, "session_id")
	if sid == "" {
		return "", errors.New("session_id is required")
	}
	return sid, nil
}

type RenderResultTool struct {
	app *app.App
}

func (t *RenderResultTool) Name() string { return "render-result" }
func (t *RenderResultTool) Description() string {
	return `Render the current frame of a result.

Optionally pin a visualizer among the applicable ones ("auto" restores automatic
selection) or filter table rows. Each render issues a new generation; descend targets
from older generations are rejected.

Returns: {visualizer, applicable, targets, generation, trail, breadcrumbs, preview}`
}
func (t *RenderResultTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": resultArgsSchema(map[string]interface{}{
			"visualizer": map[string]interface{}{
				"type":        "string",
				"description": "Visualizer label to use, or \"auto\"",
			},
			"filter": map[string]interface{}{
				"type":        "string",
				"description": "Case-insensitive row filter for table views",
			},
		}),
		"required": []string{"session_id"},
	}
}
func (t *RenderResultTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sid, err := sessionRequired(args)
	if err != nil {
		return nil, err
	}
	rid, err := resolveResult(t.app, sid, args)
	if err != nil {
		return nil, err
	}
	view, err := t.app.Render(ctx, sid, rid, app.RenderOptions{
		Viz:    getStringArg(args, "visualizer"),
		Filter: getStringArg(args, "filter"),
	})
	if err != nil {
		return nil, err
	}
	return viewPayload(view, getBoolArg(args, "include_html", false)), nil
}

type DescendTool struct {
	app *app.App
}

func (t *DescendTool) Name() string { return "descend" }
func (t *DescendTool) Description() string {
	return `Drill into a click target of the last render and render the new frame.

Use the generation and target index returned by evaluate, render-result, descend or
ascend. A stale generation fails: render again to get fresh targets.

Returns: the rendered frame.`
}
func (t *DescendTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": resultArgsSchema(map[string]interface{}{
			"generation": map[string]interface{}{
				"type":        "integer",
				"description": "Generation of the render the target came from",
			},
			"target": map[string]interface{}{
				"type":        "integer",
				"description": "Index of the target",
			},
		}),
		"required": []string{"session_id", "generation", "target"},
	}
}
func (t *DescendTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sid, err := sessionRequired(args)
	if err != nil {
		return nil, err
	}
	rid, err := resolveResult(t.app, sid, args)
	if err != nil {
		return nil, err
	}
	gen := getIntArg(args, "generation", -1)
	target := getIntArg(args, "target", -1)
	if _, err := t.app.Descend(ctx, sid, rid, gen, target); err != nil {
		if errors.Is(err, session.ErrStaleTargets) {
			return nil, errors.New("targets are stale: call render-result and use its generation")
		}
		return nil, err
	}
	view, err := t.app.Render(ctx, sid, rid, app.RenderOptions{})
	if err != nil {
		return nil, err
	}
	return viewPayload(view, getBoolArg(args, "include_html", false)), nil
}

type AscendTool struct {
	app *app.App
}

func (t *AscendTool) Name() string { return "ascend" }
func (t *AscendTool) Description() string {
	return `Jump back to a breadcrumb and render that frame. Index 0 is the root value;
index i is breadcrumb i.

Returns: the rendered frame.`
}
func (t *AscendTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": resultArgsSchema(map[string]interface{}{
			"index": map[string]interface{}{
				"type":        "integer",
				"description": "Breadcrumb index to return to (default: 0)",
			},
		}),
		"required": []string{"session_id"},
	}
}
func (t *AscendTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sid, err := sessionRequired(args)
	if err != nil {
		return nil, err
	}
	rid, err := resolveResult(t.app, sid, args)
	if err != nil {
		return nil, err
	}
	if err := t.app.Ascend(ctx, sid, rid, getIntArg(args, "index", 0)); err != nil {
		return nil, err
	}
	view, err := t.app.Render(ctx, sid, rid, app.RenderOptions{})
	if err != nil {
		return nil, err
	}
	return viewPayload(view, getBoolArg(args, "include_html", false)), nil
}

type IssueDownloadTool struct {
	app *app.App
}

func (t *IssueDownloadTool) Name() string { return "issue-download" }
func (t *IssueDownloadTool) Description() string {
	return `Issue a single-use download token for the current value when it is a file.

The URL is relative to the inspector's HTTP address and can be fetched exactly once.

Returns: {token, url}`
}
func (t *IssueDownloadTool) InputSchema() map[string]interface{} {
	props := resultArgsSchema(nil)
	delete(props, "include_html")
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"session_id"},
	}
}
func (t *IssueDownloadTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sid, err := sessionRequired(args)
	if err != nil {
		return nil, err
	}
	rid, err := resolveResult(t.app, sid, args)
	if err != nil {
		return nil, err
	}
	token, link, err := t.app.IssueDownload(sid, rid)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"token": token, "url": link}, nil
}

type ScreenshotResultTool struct {
	app *app.App
}

func (t *ScreenshotResultTool) Name() string { return "screenshot-result" }
func (t *ScreenshotResultTool) Description() string {
	return `Render the current frame in headless Chrome and offer the PNG as a download.

PREREQUISITE: browser.enabled in the config.

Returns: {token, url}`
}
func (t *ScreenshotResultTool) InputSchema() map[string]interface{} {
	props := resultArgsSchema(nil)
	delete(props, "include_html")
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"session_id"},
	}
}
func (t *ScreenshotResultTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sid, err := sessionRequired(args)
	if err != nil {
		return nil, err
	}
	rid, err := resolveResult(t.app, sid, args)
	if err != nil {
		return nil, err
	}
	token, link, err := t.app.Snapshot(ctx, sid, rid)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"token": token, "url": link}, nil
}
