// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes document tools for LLM integration via stdio transport.
//
// Tools act outside any editing session; connected clients converge through
// the change feed.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/delta"
	"github.com/starford/quire/internal/docservice"
	"github.com/starford/quire/internal/models"
)

// Server wraps the MCP server with document tools.
type Server struct {
	mcp *server.MCPServer
	svc *docservice.Service
}

// New creates a new MCP server with all document tools registered.
func New(svc *docservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Quire",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List workspaces, folders and files without content."),
		mcp.WithString("owner", mcp.Description("Optional owner user id to scope the listing")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read one document. Content is returned as plain text unless raw is set."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithBoolean("raw", mcp.Description("Return the stored JSON delta instead of plain text")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("rename_document",
		mcp.WithDescription("Change the title of a workspace, folder or file."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
	), s.renameDocument)

	s.mcp.AddTool(mcp.NewTool("set_icon",
		mcp.WithDescription("Change the icon of a workspace, folder or file."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("icon", mcp.Required(), mcp.Description("Icon id, e.g. an emoji")),
	), s.setIcon)

	s.mcp.AddTool(mcp.NewTool("trash_document",
		mcp.WithDescription("Move a document and everything under it to the trash."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("reason", mcp.Description("Trash marker shown to users, e.g. 'Deleted by alice'")),
	), s.trashDocument)

	s.mcp.AddTool(mcp.NewTool("restore_document",
		mcp.WithDescription("Restore a trashed document and everything under it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	), s.restoreDocument)

	s.mcp.AddTool(mcp.NewTool("delete_document",
		mcp.WithDescription("Permanently delete a document and everything under it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	), s.deleteDocument)

	s.mcp.AddTool(mcp.NewTool("get_content_contract",
		mcp.WithDescription("Returns the document content format and tree rules."),
	), s.getContentContract)

	// Resource: content format contract.
	s.mcp.AddResource(
		mcp.NewResource("quire://content-format", "Content Format Contract",
			mcp.WithResourceDescription("Serialized rich-text model stored as document content."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContentFormatResource,
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

// depth indents list output by tree level.
var depth = map[models.Kind]int{models.KindWorkspace: 0, models.KindFolder: 1, models.KindFile: 2}

func toolError(id string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := req.GetString("owner", "")
	items, err := s.svc.ListDocuments(ctx, owner)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no documents found"), nil
	}

	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%s%s %s (%s)", strings.Repeat("  ", depth[it.Kind]), it.Kind, it.Title, it.ID)
		if it.TrashedReason != "" {
			fmt.Fprintf(&b, " [trashed: %s]", it.TrashedReason)
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.GetDocument(ctx, id)
	if err != nil {
		return toolError(id, err), nil
	}
	if req.GetBool("raw", false) {
		return jsonResult(doc), nil
	}

	model, err := delta.ParseDocument(doc.Content)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stored content is unreadable: %v", err)), nil
	}
	header := fmt.Sprintf("# %s\n\n", doc.Title)
	if doc.TrashedReason != "" {
		header += fmt.Sprintf("> %s\n\n", doc.TrashedReason)
	}
	return mcp.NewToolResultText(header + model.Text()), nil
}

func (s *Server) update(ctx context.Context, id string, p models.Patch) *mcp.CallToolResult {
	doc, err := s.svc.UpdateDocument(ctx, id, p, "")
	if err != nil {
		return toolError(id, err)
	}
	return jsonResult(doc)
}

func (s *Server) renameDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.update(ctx, id, models.Patch{Title: &title}), nil
}

func (s *Server) setIcon(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	icon, err := req.RequireString("icon")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.update(ctx, id, models.Patch{IconID: &icon}), nil
}

func (s *Server) trashDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := s.svc.TrashDocument(ctx, id, req.GetString("reason", ""))
	if err != nil {
		return toolError(id, err), nil
	}
	return mcp.NewToolResultText("trashed: " + strings.Join(ids, ", ")), nil
}

func (s *Server) restoreDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := s.svc.RestoreDocument(ctx, id)
	if err != nil {
		return toolError(id, err), nil
	}
	return mcp.NewToolResultText("restored: " + strings.Join(ids, ", ")), nil
}

func (s *Server) deleteDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := s.svc.DeleteDocument(ctx, id)
	if err != nil {
		return toolError(id, err), nil
	}
	return mcp.NewToolResultText("deleted: " + strings.Join(ids, ", ")), nil
}

func (s *Server) getContentContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ContentFormatContract), nil
}

func (s *Server) readContentFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "quire://content-format",
			MIMEType: "text/markdown",
			Text:     ContentFormatContract,
		},
	}, nil
}
