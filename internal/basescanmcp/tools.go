package basescanmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/project-copacetic/basescan/internal/types"
	"github.com/project-copacetic/basescan/internal/watcher"
)

func (s *Server) Version(ctx context.Context, req *mcp.CallToolRequest, args types.Ver) (*mcp.CallToolResult, any, error) {
	return textResult("basescan " + s.version), nil, nil
}

// ScanDockerfile scans content (or the file at path) once and stores the
// diagnostics under the document URI.
func (s *Server) ScanDockerfile(ctx context.Context, req *mcp.CallToolRequest, args types.ScanParams) (*mcp.CallToolResult, any, error) {
	if args.Content == "" && args.Path == "" {
		return textResult("content or path is required"), nil, fmt.Errorf("content or path is required")
	}

	content := []byte(args.Content)
	uri := args.URI
	if args.Content == "" {
		data, err := os.ReadFile(args.Path)
		if err != nil {
			return textResult(fmt.Sprintf("failed to read %s: %v", args.Path, err)), nil, fmt.Errorf("failed to read %s: %w", args.Path, err)
		}
		content = data
		if uri == "" {
			uri = watcher.URI(args.Path)
		}
	}
	if uri == "" {
		uri = "untitled:Dockerfile"
	}

	s.log(ctx, req, "info", fmt.Sprintf("Scanning base images of %s", uri))
	diags, err := s.scanner.Scan(ctx, uri, content)
	if err != nil {
		return textResult(fmt.Sprintf("scan failed: %v", err)), nil, err
	}
	s.store.Set(uri, diags)
	s.log(ctx, req, "info", fmt.Sprintf("Published %d diagnostics for %s", len(diags), uri))

	return jsonResult(types.DocumentDiagnostics{URI: uri, Diagnostics: diags})
}

func (s *Server) OpenDocument(ctx context.Context, req *mcp.CallToolRequest, args types.DocumentParams) (*mcp.CallToolResult, any, error) {
	if args.URI == "" {
		return textResult("uri is required"), nil, fmt.Errorf("uri is required")
	}
	s.workspace.Open(args.URI, []byte(args.Content))
	return s.accepted(ctx, args.URI, args.Wait)
}

func (s *Server) ChangeDocument(ctx context.Context, req *mcp.CallToolRequest, args types.DocumentParams) (*mcp.CallToolResult, any, error) {
	if args.URI == "" {
		return textResult("uri is required"), nil, fmt.Errorf("uri is required")
	}
	s.workspace.Change(args.URI, []byte(args.Content))
	return s.accepted(ctx, args.URI, args.Wait)
}

func (s *Server) FocusDocument(ctx context.Context, req *mcp.CallToolRequest, args types.FocusParams) (*mcp.CallToolResult, any, error) {
	var content []byte
	if args.Content != "" {
		content = []byte(args.Content)
	}
	if err := s.workspace.Focus(args.URI, content); err != nil {
		return textResult(err.Error()), nil, err
	}
	return s.accepted(ctx, args.URI, args.Wait)
}

func (s *Server) CloseDocument(ctx context.Context, req *mcp.CallToolRequest, args types.CloseParams) (*mcp.CallToolResult, any, error) {
	s.workspace.Close(args.URI)
	return textResult(fmt.Sprintf("closed %s", args.URI)), nil, nil
}

func (s *Server) GetDiagnostics(ctx context.Context, req *mcp.CallToolRequest, args types.DiagnosticsParams) (*mcp.CallToolResult, any, error) {
	if args.URI != "" {
		diags, _ := s.store.Get(args.URI)
		return jsonResult(types.DocumentDiagnostics{URI: args.URI, Diagnostics: nonNil(diags)})
	}
	var all []types.DocumentDiagnostics
	for _, uri := range s.store.URIs() {
		diags, _ := s.store.Get(uri)
		all = append(all, types.DocumentDiagnostics{URI: uri, Diagnostics: nonNil(diags)})
	}
	return jsonResult(nonNil(all))
}

func (s *Server) InvalidateCache(ctx context.Context, req *mcp.CallToolRequest, args types.InvalidateParams) (*mcp.CallToolResult, any, error) {
	c := s.scanner.Cache()
	if c == nil {
		return textResult("result cache is disabled"), nil, nil
	}
	if args.Image == "" {
		if err := c.Reset(); err != nil {
			return textResult(fmt.Sprintf("failed to reset cache: %v", err)), nil, err
		}
		return textResult("dropped all cached results"), nil, nil
	}
	n := c.Invalidate(args.Image)
	return textResult(fmt.Sprintf("dropped %d cached results for %s", n, args.Image)), nil, nil
}

// accepted answers a workspace event, optionally after its scan finished.
func (s *Server) accepted(ctx context.Context, uri string, wait bool) (*mcp.CallToolResult, any, error) {
	if !wait {
		return textResult(fmt.Sprintf("scan scheduled for %s", uri)), nil, nil
	}
	if err := s.workspace.WaitFor(ctx, uri); err != nil {
		return textResult(fmt.Sprintf("waiting for %s: %v", uri, err)), nil, err
	}
	diags, _ := s.store.Get(uri)
	return jsonResult(types.DocumentDiagnostics{URI: uri, Diagnostics: nonNil(diags)})
}

func (s *Server) log(ctx context.Context, req *mcp.CallToolRequest, level mcp.LoggingLevel, msg string) {
	s.logger.Info(msg)
	if req == nil || req.Session == nil {
		return
	}
	_ = req.Session.Log(ctx, &mcp.LoggingMessageParams{
		Data:   msg,
		Level:  level,
		Logger: "basescan",
	})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return textResult(string(data)), nil, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
