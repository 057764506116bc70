// Package mcp implements the Model Context Protocol server for kenbi.
//
// The server exposes the analysis service through MCP tools, resources and
// prompts so that agents can list recordings, read guardian findings, find hot
// frames and compare two recordings without rendering a flamegraph.
package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kenbi/internal/service/analysis"
)

// Server wraps the MCP server with kenbi's analysis service.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	svc        *analysis.Service
	logger     *slog.Logger
	rootsCache *rootsCache
	recent     *profileTracker
}

// New creates and configures a new MCP server with all resources, tools and
// prompts.
func New(svc *analysis.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		svc:        svc,
		logger:     logger,
		rootsCache: newRootsCache(),
		recent:     newProfileTracker(time.Hour),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kenbi",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Serve speaks the MCP stdio transport over in and out until ctx is done or
// the client closes in.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp: serving stdio")
	return stdio.Listen(ctx, in, out)
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
