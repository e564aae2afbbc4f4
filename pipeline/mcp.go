package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finlens/reportpipe/kit"
	"github.com/finlens/reportpipe/store"
)

// RegisterMCP registers the analysis tools on an MCP server.
func (r *Runner) RegisterMCP(srv *mcp.Server) {
	r.registerAnalyzeTool(srv)
	r.registerResultTool(srv)
	r.registerRecentTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- analyze ---

type analyzeReq struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

func (r *Runner) registerAnalyzeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "report_analyze",
		Description: "Submit an annual report PDF by URL or local path for analysis. Returns the document ID to poll.",
		InputSchema: inputSchema(map[string]any{
			"url":  map[string]any{"type": "string", "description": "HTTP(S) URL of the report PDF"},
			"path": map[string]any{"type": "string", "description": "Local filesystem path to the report PDF"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		a := req.(*analyzeReq)
		var (
			docID string
			err   error
		)
		switch {
		case a.URL != "":
			docID, err = r.SubmitURL(ctx, a.URL)
		case a.Path != "":
			var data []byte
			data, err = os.ReadFile(a.Path)
			if err == nil {
				docID, err = r.SubmitBytes(ctx, data)
			}
		default:
			return nil, fmt.Errorf("either url or path is required")
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"document_id": docID}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var a analyzeReq
		if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &a}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- result ---

type resultReq struct {
	DocumentID string `json:"document_id"`
}

func (r *Runner) registerResultTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "report_result",
		Description: "Fetch the published analysis result for a document, or its progress if still running.",
		InputSchema: inputSchema(map[string]any{
			"document_id": map[string]any{"type": "string", "description": "Document ID from report_analyze"},
		}, []string{"document_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		q := req.(*resultReq)
		res, err := r.store.Get(ctx, q.DocumentID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// No published result: report progress instead.
		return r.store.GetProgress(ctx, q.DocumentID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var q resultReq
		if err := json.Unmarshal(req.Params.Arguments, &q); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &q}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- recent ---

func (r *Runner) registerRecentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "report_recent",
		Description: "List the most recently completed analyses (at most six).",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		recent, err := r.store.ListRecent(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"recent": recent}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
