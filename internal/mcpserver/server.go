// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes plotweave retrieval tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/foreshadow"
	"github.com/starford/plotweave/internal/network"
	"github.com/starford/plotweave/internal/retrieve"
	"github.com/starford/plotweave/internal/service"
)

const markupURI = "plotweave://markup"

// Service is the subset of the query facade the tools call.
type Service interface {
	DefaultQuery(text string) retrieve.Query
	Retrieve(ctx context.Context, q retrieve.Query) ([]retrieve.Result, error)
	Network(ctx context.Context, names []string) (*network.Network, error)
	Trace(ctx context.Context, id string) (*foreshadow.Chain, error)
	Foreshadows(ctx context.Context, openOnly bool) []*foreshadow.Chain
	Stats(ctx context.Context) service.Stats
}

var _ Service = (*service.Service)(nil)

// Server wraps the MCP server with plotweave tools.
type Server struct {
	mcp *server.MCPServer
	svc Service
}

type retrieveInput struct {
	Query   string `json:"query"`
	MaxHops *int   `json:"max_hops"`
	Limit   *int   `json:"limit"`
}

type networkInput struct {
	Names []string `json:"names"`
}

type traceInput struct {
	ID string `json:"id"`
}

// New creates a new MCP server with all tools registered.
func New(svc Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"plotweave",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("retrieve_context",
		mcp.WithDescription("Find chapters and entities relevant to a query. Graph hits are ranked by "+
			"hop distance from the names in the query, text hits fill in the rest."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free text, usually containing character or location names")),
		mcp.WithNumber("max_hops", mcp.Description("Maximum graph hops from a matched entity (>= 0, default 2)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (> 0, default 20)")),
	), s.retrieveContext)

	s.mcp.AddTool(mcp.NewTool("build_network",
		mcp.WithDescription("Build the relationship network among the named entities, with strong-tie communities."),
		mcp.WithArray("names",
			mcp.Description("Character or location names; empty selects all characters"),
			mcp.WithStringItems(),
		),
	), s.buildNetwork)

	s.mcp.AddTool(mcp.NewTool("trace_foreshadow",
		mcp.WithDescription("Trace a foreshadow from setup through hints to its payoff."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Foreshadow node id or name")),
	), s.traceForeshadow)

	s.mcp.AddTool(mcp.NewTool("list_open_foreshadows",
		mcp.WithDescription("List foreshadows that have been set up but not yet paid off."),
	), s.listOpenForeshadows)

	s.mcp.AddTool(mcp.NewTool("index_stats",
		mcp.WithDescription("Report graph counts, file index states and process usage."),
	), s.indexStats)

	s.mcp.AddTool(mcp.NewTool("get_markup_contract",
		mcp.WithDescription("Returns the chapter and settings markup the indexer understands. "+
			"Call this before writing chapters so new facts land in the graph."),
	), s.getMarkupContract)

	s.mcp.AddResource(
		mcp.NewResource(markupURI, "Markup Contract",
			mcp.WithResourceDescription("Chapter and settings markup recognised by the indexer."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMarkupResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) retrieveContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in retrieveInput
	if err := req.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid retrieve_context arguments", err), nil
	}
	q := s.svc.DefaultQuery(in.Query)
	if in.MaxHops != nil {
		q.MaxHops = *in.MaxHops
	}
	if in.Limit != nil {
		q.Limit = *in.Limit
	}
	results, err := s.svc.Retrieve(ctx, q)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"query": q.Text, "max_hops": q.MaxHops, "limit": q.Limit, "results": results})
}

func (s *Server) buildNetwork(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in networkInput
	if err := req.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid build_network arguments", err), nil
	}
	n, err := s.svc.Network(ctx, in.Names)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(n)
}

func (s *Server) traceForeshadow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in traceInput
	if err := req.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid trace_foreshadow arguments", err), nil
	}
	if in.ID == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	c, err := s.svc.Trace(ctx, in.ID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(c)
}

func (s *Server) listOpenForeshadows(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"foreshadows": s.svc.Foreshadows(ctx, true)})
}

func (s *Server) indexStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Stats(ctx))
}

func (s *Server) getMarkupContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MarkupContract), nil
}

func (s *Server) readMarkupResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      markupURI,
			MIMEType: "text/markdown",
			Text:     MarkupContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError reports query errors to the model instead of failing the call.
func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrMalformedQuery) {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultErrorFromErr("request failed", err)
}
