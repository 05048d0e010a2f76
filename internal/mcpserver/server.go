// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the dvpipe metadata tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toltec-astro/dvpipe/internal/apperr"
	"github.com/toltec-astro/dvpipe/internal/metaservice"
)

// SessionFormatURI names the session format resource.
const SessionFormatURI = "dvpipe://session-format"

// Server wraps the MCP server with the dvpipe tools.
type Server struct {
	mcp *server.MCPServer
	svc *metaservice.Service
	now func() time.Time
}

// New creates a new MCP server with all dvpipe tools registered.
func New(svc *metaservice.Service, version string) *Server {
	s := &Server{svc: svc, now: time.Now}

	s.mcp = server.NewMCPServer(
		"dvpipe",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_blocks",
		mcp.WithDescription("List the metadata blocks (LMTData, citation) with their versions and field counts."),
	), s.listBlocks)

	s.mcp.AddTool(mcp.NewTool("list_fields",
		mcp.WithDescription("List every field of a metadata block in display order."),
		mcp.WithString("block", mcp.Required(), mcp.Description("Block name, e.g. LMTData")),
	), s.listFields)

	s.mcp.AddTool(mcp.NewTool("describe_field",
		mcp.WithDescription("Describe one dataset field: type, parent, unit, "+
			"whether it is required or repeatable, and its allowed values."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Field name, e.g. velFrame")),
	), s.describeField)

	s.mcp.AddTool(mcp.NewTool("convert_metadata",
		mcp.WithDescription("Validate metadata and convert it between the flat JSON, "+
			"Dataverse wire JSON and YAML session formats. Errors name the offending field. "+
			"Read the contract first via get_session_contract or the "+SessionFormatURI+" resource."),
		mcp.WithString("data", mcp.Required(), mcp.Description("Metadata document in the input format")),
		mcp.WithString("from", mcp.Required(), mcp.Enum("flat", "wire", "session"), mcp.Description("Input format")),
		mcp.WithString("to", mcp.Required(), mcp.Enum("flat", "wire", "session"), mcp.Description("Output format")),
		mcp.WithBoolean("validate", mcp.Description("Require every mandatory field")),
	), s.convertMetadata)

	s.mcp.AddTool(mcp.NewTool("get_example",
		mcp.WithDescription("Return the reference LMT session, a combined SEQUOIA reduction."),
		mcp.WithString("format", mcp.Enum("flat", "wire", "session"), mcp.Description("Output format (default session)")),
	), s.getExample)

	s.mcp.AddTool(mcp.NewTool("get_session_contract",
		mcp.WithDescription("Returns the dvpipe session document contract. "+
			"Call this before writing a dvp_metadata.yaml session file."),
	), s.getSessionContract)

	s.mcp.AddTool(mcp.NewTool("list_indices",
		mcp.WithDescription("List the stored project dataset indices."),
	), s.listIndices)

	s.mcp.AddTool(mcp.NewTool("get_index",
		mcp.WithDescription("Read the dataset index of one project."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id, e.g. 2021-S1-US-3")),
	), s.getIndex)

	s.mcp.AddResource(
		mcp.NewResource(SessionFormatURI, "Session Format Contract",
			mcp.WithResourceDescription("YAML session document format for LMT dataset metadata."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSessionFormatResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func format(req mcp.CallToolRequest, key string, def metaservice.Format) (metaservice.Format, error) {
	v, err := req.RequireString(key)
	if err != nil {
		if def != "" {
			return def, nil
		}
		return "", err
	}
	return metaservice.ParseFormat(v)
}

func (s *Server) listBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Blocks(ctx))
}

func (s *Server) listFields(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	block, err := req.RequireString("block")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields, err := s.svc.Fields(ctx, block)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown block: %s", block)), nil
	}
	return jsonResult(fields)
}

func (s *Server) describeField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := s.svc.Field(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown field: %s", name)), nil
	}
	return jsonResult(f)
}

func (s *Server) convertMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := req.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	from, err := format(req, "from", "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := format(req, "to", "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	validate := false
	if v, err := req.RequireBool("validate"); err == nil {
		validate = v
	}
	out, err := s.svc.Convert(ctx, []byte(data), from, to, validate)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getExample(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to, err := format(req, "format", metaservice.FormatSession)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g, err := s.svc.Example(ctx, s.now())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.Render(g, to)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getSessionContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SessionFormatContract), nil
}

func (s *Server) readSessionFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      SessionFormatURI,
			MIMEType: "text/markdown",
			Text:     SessionFormatContract,
		},
	}, nil
}

func (s *Server) listIndices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.Indices(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no dataset indices found"), nil
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%s\t%d files\t%s", it.ProjectID, it.Files, it.Title)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	idx, err := s.svc.Index(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(idx)
}
