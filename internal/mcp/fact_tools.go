package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/zeitstein/REPLey/internal/app"
	"github.com/zeitstein/REPLey/internal/mangle"
)

type QueryFactsTool struct {
	app *app.App
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query over the inspector's activity facts.

BASE FACTS: evaluated(Session, Result, Lang), dispatched(Result, Visualizer, Precedence),
navigated(Result, Action, Depth), downloaded(Result, Name).
DERIVED: viewed_with(Result, Visualizer), session_visualizer(Session, Visualizer),
explored(Result), session_download(Session, Name).

Returns: {results: [{Var: value}...], count}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Single atom with variables, e.g. dispatched(R, V, P)",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	q := strings.TrimSpace(getStringArg(args, "query"))
	if q == "" {
		return nil, errors.New("query is required")
	}
	results, err := t.app.Engine.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []mangle.QueryResult{}
	}
	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

type ReadFactsTool struct {
	app *app.App
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read the most recent base facts, oldest first.

Optionally filter by predicate and by leading arguments, e.g. predicate "dispatched"
with args ["<result id>"].

Returns: {facts: [{predicate, args, timestamp}...], count, predicates}`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Only facts of this predicate",
			},
			"args": map[string]interface{}{
				"type":        "array",
				"description": "Leading arguments the facts must start with",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts to return (default: 50, max: 500)",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", 50)
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	want, _ := args["args"].([]interface{})

	var source []mangle.Fact
	if p := getStringArg(args, "predicate"); p != "" {
		source = t.app.Engine.FactsByPredicate(p)
	} else {
		source = t.app.Engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		if len(want) > 0 && !matchFact(source[i:i+1], want) {
			continue
		}
		out = append(out, source[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return map[string]interface{}{
		"facts":      out,
		"count":      len(out),
		"predicates": t.app.Engine.Predicates(),
	}, nil
}
