package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zeitstein/REPLey/internal/mangle"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"repley://about",
			"REPLey About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, visualizers, languages and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"repley://session/{sessionId}/facts{?predicate,limit}",
			"Session Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Activity facts of one session and the results it evaluated."),
		),
		s.handleSessionFactsResource,
	)
}

func (s *Server) aboutPayload() map[string]interface{} {
	cfg := s.app.Config
	return map[string]interface{}{
		"name":         cfg.Server.Name,
		"version":      cfg.Server.Version,
		"http_addr":    cfg.HTTP.Addr,
		"side_channel": cfg.HTTP.Prefix(),
		"visualizers":  s.app.Labels(),
		"languages":    s.app.Evaluator.Languages(),
		"notes": []string{
			"evaluate returns a session_id; pass it to every other tool.",
			"Targets are only valid for the generation that produced them.",
			"Download URLs are single use and relative to http_addr.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(s.aboutPayload())
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleSessionFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := getIntArg(map[string]interface{}{"limit": argString(request.Params.Arguments["limit"])}, "limit", 25)
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := selectRecentSessionFacts(s.app.Engine, sessionID, predicate, limit)

	payload := map[string]interface{}{
		"session_id": sessionID,
		"predicate":  predicate,
		"limit":      limit,
		"count":      len(facts),
		"facts":      facts,
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// selectRecentSessionFacts returns the newest facts belonging to sessionID in
// chronological order. A fact belongs to the session when its first argument is the
// session or one of the results the session evaluated.
func selectRecentSessionFacts(engine *mangle.Engine, sessionID, predicate string, limit int) []mangle.Fact {
	if engine == nil || sessionID == "" || limit <= 0 {
		return []mangle.Fact{}
	}

	owned := map[string]bool{sessionID: true}
	for _, f := range engine.FactsByPredicate("evaluated") {
		if len(f.Args) >= 2 && fmt.Sprintf("%v", f.Args[0]) == sessionID {
			owned[fmt.Sprintf("%v", f.Args[1])] = true
		}
	}

	var source []mangle.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if len(f.Args) == 0 || !owned[fmt.Sprintf("%v", f.Args[0])] {
			continue
		}
		out = append(out, f)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
