package abtest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers experiment tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCreateTool(srv)
	s.registerListTool(srv)
	s.registerEvaluateTool(srv)
	s.registerSelectTool(srv)
	s.registerTrackTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

func toolResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Errorf("marshal: %w", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

// --- create ---

func (s *Service) registerCreateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "essai_create",
		Description: "Create an A/B experiment with at least two variant values.",
		InputSchema: inputSchema(map[string]any{
			"subject_ref":    map[string]any{"type": "string", "description": "Opaque reference to the content under test (e.g. article id)"},
			"test_kind":      map[string]any{"type": "string", "description": "Test category: title, meta_description or cta"},
			"variant_values": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, []string{"subject_ref", "test_kind", "variant_values"}),
	}
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in CreateInput
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		e, err := s.Create(ctx, &in)
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(e)
	})
}

// --- list ---

func (s *Service) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "essai_list",
		Description: "List experiments, optionally filtered by status (active or completed).",
		InputSchema: inputSchema(map[string]any{
			"status": map[string]any{"type": "string", "description": "Optional status filter"},
		}, nil),
	}
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in struct {
			Status string `json:"status"`
		}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		list, err := s.List(ctx, Status(in.Status))
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(list)
	})
}

// --- evaluate ---

func (s *Service) registerEvaluateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "essai_evaluate",
		Description: "Run the chi-squared significance check; completes the experiment when a winner emerges.",
		InputSchema: inputSchema(map[string]any{
			"test_id": map[string]any{"type": "string"},
		}, []string{"test_id"}),
	}
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in struct {
			TestID string `json:"test_id"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		ev, err := s.Evaluate(ctx, in.TestID)
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(ev)
	})
}

// --- select ---

func (s *Service) registerSelectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "essai_select",
		Description: "Pick a variant via the epsilon-greedy serving policy (no subject key needed).",
		InputSchema: inputSchema(map[string]any{
			"test_id": map[string]any{"type": "string"},
		}, []string{"test_id"}),
	}
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in struct {
			TestID string `json:"test_id"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		v, err := s.Select(ctx, in.TestID)
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(v)
	})
}

// --- track ---

func (s *Service) registerTrackTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "essai_track",
		Description: "Record an impression, click or conversion against an experiment variant.",
		InputSchema: inputSchema(map[string]any{
			"test_id":               map[string]any{"type": "string"},
			"variant_id":            map[string]any{"type": "string", "description": "Optional replay of an earlier assignment"},
			"event":                 map[string]any{"type": "string", "description": "impression, click or conversion"},
			"subject_key":           map[string]any{"type": "string", "description": "Stable identifier of the visitor being bucketed"},
			"holdout_variant_id":    map[string]any{"type": "string"},
			"min_holdout_share_pct": map[string]any{"type": "number"},
		}, []string{"test_id", "event", "subject_key"}),
	}
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in struct {
			TestID             string  `json:"test_id"`
			VariantID          string  `json:"variant_id"`
			Event              string  `json:"event"`
			SubjectKey         string  `json:"subject_key"`
			HoldoutVariantID   string  `json:"holdout_variant_id"`
			MinHoldoutSharePct float64 `json:"min_holdout_share_pct"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		res, err := s.Track(ctx, &TrackInput{
			TestID:             in.TestID,
			VariantID:          in.VariantID,
			Event:              EventKind(in.Event),
			SubjectKey:         in.SubjectKey,
			HoldoutVariantID:   in.HoldoutVariantID,
			MinHoldoutSharePct: in.MinHoldoutSharePct,
		})
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(res)
	})
}
