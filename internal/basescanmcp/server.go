package basescanmcp

import (
	"context"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/project-copacetic/basescan/internal/config"
	"github.com/project-copacetic/basescan/internal/diagnostic"
	"github.com/project-copacetic/basescan/internal/scanner"
	"github.com/project-copacetic/basescan/internal/watcher"
)

// Server exposes the scanner and the document workspace as MCP tools.
type Server struct {
	scanner   *scanner.Scanner
	workspace *watcher.Workspace
	store     *diagnostic.Store
	version   string
	logger    *logrus.Entry
}

// New builds a Server around sc. Published diagnostics are kept in an
// in-memory store that get-diagnostics reads.
func New(sc *scanner.Scanner, cfg *config.Config, version string, logger *logrus.Entry) *Server {
	if version == "" {
		version = "dev"
	}
	logger = logger.WithField("component", "mcp")
	store := diagnostic.NewStore(func(uri string, diagnostics []diagnostic.Diagnostic) {
		logger.WithField("uri", uri).WithField("count", len(diagnostics)).Debug("published diagnostics")
	})
	return &Server{
		scanner: sc,
		workspace: watcher.NewWorkspace(sc, store,
			watcher.WithDebounce(cfg.Debounce),
			watcher.WithLogger(logger)),
		store:   store,
		version: version,
		logger:  logger,
	}
}

// NewServer creates and configures the MCP server with all tools
func (s *Server) NewServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "basescan",
		Version: s.version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "version",
		Description: "basescan version",
	}, s.Version)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan-dockerfile",
		Description: "Scan the FROM lines of a Dockerfile and return one diagnostic per base image with its vulnerability counts. Accepts Dockerfile content or a path.",
	}, s.ScanDockerfile)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "open-document",
		Description: "Notify that an editor opened a Dockerfile. The document is scanned in the background; use get-diagnostics or wait=true for the result.",
	}, s.OpenDocument)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "change-document",
		Description: "Notify that a Dockerfile's content changed. Scans are debounced and a newer change supersedes any scan still running.",
	}, s.ChangeDocument)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "focus-document",
		Description: "Notify that the editor switched to a Dockerfile. Re-scans it, reusing the last known content when none is given.",
	}, s.FocusDocument)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "close-document",
		Description: "Notify that a Dockerfile was closed. Cancels its scans and removes its diagnostics.",
	}, s.CloseDocument)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get-diagnostics",
		Description: "Return the current diagnostics of one document, or of every document when no uri is given.",
	}, s.GetDiagnostics)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "invalidate-cache",
		Description: "Drop cached vulnerability results for one image reference, or all of them.",
	}, s.InvalidateCache)

	return server
}

// Shutdown stops pending scans and releases the scanner.
func (s *Server) Shutdown() error {
	s.workspace.Shutdown()
	return s.scanner.Close()
}

// Activate scans the Dockerfile at path as the editor's active document.
// An empty path is a no-op.
func (s *Server) Activate(path string) error {
	if path == "" {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read active document %s: %w", path, err)
	}
	s.workspace.Activate(watcher.URI(path), content)
	return nil
}

// Run starts the MCP server on stdio with a scanner built from cfg. When
// active names a Dockerfile it is scanned right away.
func Run(ctx context.Context, cfg *config.Config, version, active string, logger *logrus.Entry) error {
	sc, err := scanner.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	s := New(sc, cfg, version, logger)
	defer func() {
		if err := s.Shutdown(); err != nil {
			logger.WithError(err).Warn("shutdown failed")
		}
	}()
	if err := s.Activate(active); err != nil {
		return err
	}
	return s.NewServer().Run(ctx, &mcp.StdioTransport{})
}
