// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes embedmark tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/embedmark/internal/apperr"
	"github.com/starford/embedmark/internal/pageservice"
)

// MarkupGuideURI is the resource URI of the markup guide.
const MarkupGuideURI = "embedmark://markup-guide"

// Server wraps the MCP server with embedmark tools.
type Server struct {
	mcp *server.MCPServer
	svc *pageservice.Service
}

// New creates a new MCP server with all embedmark tools registered.
func New(svc *pageservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"embedmark",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("render_markdown",
		mcp.WithDescription("Render a Markdown document to HTML exactly as the site builder would, "+
			"including link cards, players, wiki-links and media embeds. Nothing is stored. "+
			"See get_markup_guide for the supported syntax."),
		mcp.WithString("markdown", mcp.Required(), mcp.Description("Markdown source, optionally with YAML frontmatter")),
	), s.renderMarkdown)

	s.mcp.AddTool(mcp.NewTool("classify_url",
		mcp.WithDescription("Report how a URL would be embedded (youtube, spotify, zenn, qiita, github, "+
			"note, soundcloud, niconico, internal, external, or skip)."),
		mcp.WithString("url", mcp.Required(), mcp.Description("URL to classify")),
	), s.classifyURL)

	s.mcp.AddTool(mcp.NewTool("fetch_preview",
		mcp.WithDescription("Fetch the Open Graph metadata of a URL and return the embed markup it renders to."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute http(s) URL")),
		mcp.WithString("text", mcp.Description("Optional link text used as a fallback title")),
	), s.fetchPreview)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read a built page by source path or slug: metadata, Markdown body and backlinks."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Source path (e.g. docs/guide.md) or slug (e.g. docs/guide)")),
		mcp.WithBoolean("html", mcp.Description("Include the rendered HTML")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List built pages, most recently updated first."),
		mcp.WithString("tag", mcp.Description("Only pages with this tag")),
		mcp.WithNumber("limit", mcp.Description("Maximum pages to return (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Pages to skip")),
		mcp.WithBoolean("drafts", mcp.Description("Include draft pages")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("search_pages",
		mcp.WithDescription("Full-text search through page titles, bodies and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchPages)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all pages that link to the specified page."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Source path of the page to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("get_markup_guide",
		mcp.WithDescription("Returns the embedmark markup guide. "+
			"Call this before writing Markdown intended for the site."),
	), s.getMarkupGuide)

	s.mcp.AddResource(
		mcp.NewResource(MarkupGuideURI, "Markup Guide",
			mcp.WithResourceDescription("How links, wiki-links and media embeds render."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMarkupGuideResource,
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

// jsonResult encodes v as an indented JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult turns a service error into a tool error.
func errorResult(err error, subject string) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", subject))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) renderMarkdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	md, err := req.RequireString("markdown")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.RenderMarkdown(ctx, md)
	if err != nil {
		return errorResult(err, "markdown"), nil
	}
	return jsonResult(res)
}

func (s *Server) classifyURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.Classify(ctx, url)
	if err != nil {
		return errorResult(err, url), nil
	}
	return jsonResult(c)
}

func (s *Server) fetchPreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.Preview(ctx, url, req.GetString("text", ""))
	if err != nil {
		return errorResult(err, url), nil
	}
	return jsonResult(p)
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.svc.GetPage(ctx, path)
	if err != nil {
		return errorResult(err, path), nil
	}
	if !req.GetBool("html", false) {
		page.HTML = ""
	}
	return jsonResult(page)
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.ListPages(ctx,
		req.GetInt("limit", 0),
		req.GetInt("offset", 0),
		req.GetString("tag", ""),
		req.GetBool("drafts", false),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if total == 0 {
		return mcp.NewToolResultText("no pages found"), nil
	}
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, fmt.Sprintf("%d of %d pages", len(items), total))
	for _, p := range items {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", p.Path, p.Slug, p.Title))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) searchPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, path)
	if err != nil {
		return errorResult(err, path), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

func (s *Server) getMarkupGuide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MarkupGuide), nil
}

func (s *Server) readMarkupGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      MarkupGuideURI,
			MIMEType: "text/markdown",
			Text:     MarkupGuide,
		},
	}, nil
}
