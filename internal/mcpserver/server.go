// Package mcpserver binds the dispatcher to the Model Context Protocol.
package mcpserver

import (
	"context"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nidhogg/digitwin/internal/dispatch"
	"github.com/nidhogg/digitwin/internal/resource"
	"go.uber.org/zap"
)

// Server exposes every tool and resource of a dispatcher over MCP. Calls
// naming an unregistered tool or URI still reach the dispatcher.
type Server struct {
	mcp    *server.MCPServer
	d      *dispatch.Dispatcher
	logger *zap.Logger

	tools     map[string]bool
	resources map[string]bool
	templates []mcp.ResourceTemplate
}

// New registers the dispatcher's catalog on a fresh MCP server.
func New(name, version string, d *dispatch.Dispatcher, logger *zap.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(name, version,
			server.WithToolCapabilities(true),
			server.WithResourceCapabilities(true, true),
			server.WithRecovery(),
		),
		d:         d,
		logger:    logger,
		tools:     make(map[string]bool),
		resources: make(map[string]bool),
	}

	for _, tool := range d.Tools() {
		s.mcp.AddTool(
			mcp.NewToolWithRawSchema(string(tool.Name), tool.Description, tool.Schema.Raw()),
			s.handleTool,
		)
		s.tools[string(tool.Name)] = true
	}
	for _, res := range d.Resources() {
		s.mcp.AddResource(
			mcp.NewResource(res.URI, res.Name,
				mcp.WithResourceDescription(res.Description),
				mcp.WithMIMEType(res.MIMEType),
			),
			s.handleResource,
		)
		s.resources[res.URI] = true
	}
	chain := mcp.NewResourceTemplate(resource.ChainTemplate, "Reasoning Chain",
		mcp.WithTemplateDescription("A single reasoning chain with its steps"),
		mcp.WithTemplateMIMEType("application/json"),
	)
	s.mcp.AddResourceTemplate(chain, s.handleResource)
	s.templates = append(s.templates, chain)

	logger.Info("mcp server ready",
		zap.Int("tools", len(d.Tools())),
		zap.Int("resources", len(d.Resources())))
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves newline-delimited JSON-RPC until ctx is canceled or in
// reaches EOF.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	pr, pw := io.Pipe()
	defer pr.Close()
	w := &lockedWriter{w: out}
	go s.filterStdio(ctx, in, pw, w)
	return server.NewStdioServer(s.mcp).Listen(ctx, pr, w)
}

// HTTPHandler returns the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return s.fallbackHandler(server.NewStreamableHTTPServer(s.mcp))
}

func (s *Server) handleTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.d.CallTool(ctx, req.Params.Name, req.GetArguments())), nil
}

func (s *Server) handleResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return s.readContents(ctx, req.Params.URI), nil
}

func (s *Server) readContents(ctx context.Context, uri string) []mcp.ResourceContents {
	body, ok := s.d.ReadResource(ctx, uri)
	mime := "application/json"
	if !ok {
		mime = "text/plain"
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: mime, Text: body},
	}
}

func toolResult(res dispatch.Result) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: res.IsError}
	for _, c := range res.Content {
		out.Content = append(out.Content, mcp.NewTextContent(c.Text))
	}
	return out
}
