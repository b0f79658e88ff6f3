package mcp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zeitstein/REPLey/internal/app"
	"github.com/zeitstein/REPLey/internal/mangle"
)

// previewLimit bounds the value preview returned to agents.
const previewLimit = 2000

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		return fallback
	default:
		return fallback
	}
}

// getBoolArg extracts a boolean argument with default.
func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return fallback
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

// matchFact reports whether any fact starts with wantArgs, compared as strings.
func matchFact(facts []mangle.Fact, wantArgs []interface{}) bool {
	if len(wantArgs) == 0 {
		return len(facts) > 0
	}
	for _, f := range facts {
		if len(f.Args) < len(wantArgs) {
			continue
		}
		ok := true
		for i := range wantArgs {
			if fmt.Sprintf("%v", f.Args[i]) != fmt.Sprintf("%v", wantArgs[i]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…", true
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// viewPayload is the token-efficient form of a rendered frame. HTML is included only on
// request.
func viewPayload(v *app.View, includeHTML bool) map[string]interface{} {
	targets := make([]map[string]interface{}, len(v.Targets))
	for i, t := range v.Targets {
		targets[i] = map[string]interface{}{"index": i, "label": t.Label}
	}
	preview, truncated := truncate(fmt.Sprintf("%v", v.Value), previewLimit)

	out := map[string]interface{}{
		"session_id":  v.SessionID,
		"result_id":   v.Result.ID,
		"expr":        v.Result.Expr,
		"lang":        v.Result.Lang,
		"type":        fmt.Sprintf("%T", v.Value),
		"preview":     preview,
		"truncated":   truncated,
		"visualizer":  v.Visualizer,
		"applicable":  v.Applicable,
		"trail":       v.Trail,
		"breadcrumbs": v.Breadcrumbs,
		"generation":  v.Generation,
		"targets":     targets,
	}
	if v.Err != nil {
		out["render_error"] = v.Err.Error()
	}
	if includeHTML {
		out["html"] = string(v.HTML)
	}
	return out
}
