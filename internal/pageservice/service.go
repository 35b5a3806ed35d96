// Package pageservice is the read-side facade the HTTP API and MCP server
// share: built pages, search, backlinks, and on-demand rendering.
package pageservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/embedmark/internal/apperr"
	"github.com/starford/embedmark/internal/embed"
	"github.com/starford/embedmark/internal/index"
	"github.com/starford/embedmark/internal/models"
	"github.com/starford/embedmark/internal/parser"
	"github.com/starford/embedmark/internal/render"
)

// PageDetail is the full representation of a built page.
type PageDetail struct {
	Path        string    `json:"path"`
	Slug        string    `json:"slug"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags"`
	Links       []string  `json:"links"`
	Backlinks   []string  `json:"backlinks"`
	Draft       bool      `json:"draft,omitempty"`
	Body        string    `json:"body"`
	HTML        string    `json:"html"`
	Checksum    string    `json:"checksum"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RenderResult is the outcome of rendering a Markdown snippet.
type RenderResult struct {
	RunID   string            `json:"run_id"`
	HTML    string            `json:"html"`
	TOC     []render.TOCEntry `json:"toc"`
	Missing []string          `json:"missing"`
	Embeds  int               `json:"embeds"`
	Fetches int               `json:"fetches"`
}

// Classification is a classified URL.
type Classification struct {
	URL      string     `json:"url"`
	Kind     embed.Kind `json:"kind"`
	Captures []string   `json:"captures,omitempty"`
	Card     bool       `json:"card"`
}

// Preview is the markup one link would render to, with the metadata used.
type Preview struct {
	URL      string         `json:"url"`
	Kind     embed.Kind     `json:"kind"`
	Metadata embed.Metadata `json:"metadata"`
	HTML     string         `json:"html"`
}

// Service coordinates the index and the renderer.
type Service struct {
	pages    index.PageIndex
	renderer *render.Renderer
}

// NewService creates a new page service.
func NewService(pages index.PageIndex, r *render.Renderer) *Service {
	return &Service{pages: pages, renderer: r}
}

// GetPage returns a page by source path or slug, enriched with backlinks.
func (s *Service) GetPage(_ context.Context, ref string) (*PageDetail, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperr.ErrInvalidInput
	}
	p, err := s.pages.GetPage(ref)
	if errors.Is(err, apperr.ErrNotFound) {
		p, err = s.pages.GetPageBySlug(strings.Trim(ref, "/"))
	}
	if err != nil {
		return nil, err
	}
	bl, err := s.pages.Backlinks(p.Path)
	if err != nil {
		return nil, err
	}
	return &PageDetail{
		Path:        p.Path,
		Slug:        p.Slug,
		URL:         p.URL(),
		Title:       p.Title,
		Description: p.Description,
		Tags:        nonNilSlice(p.Tags),
		Links:       nonNilSlice(p.Links),
		Backlinks:   nonNilSlice(bl),
		Draft:       p.Draft,
		Body:        p.Body,
		HTML:        p.HTML,
		Checksum:    p.Checksum,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

// ListPages returns paginated page summaries with an optional tag filter.
func (s *Service) ListPages(_ context.Context, limit, offset int, tag string, drafts bool) ([]models.PageSummary, int, error) {
	items, total, err := s.pages.ListPages(limit, offset, tag, drafts)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []models.PageSummary{}
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.ErrInvalidInput
	}
	results, err := s.pages.Search(query, limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	return results, nil
}

// Backlinks returns the paths of pages linking to the page at path.
func (s *Service) Backlinks(_ context.Context, path string) ([]string, error) {
	if _, err := s.pages.GetPage(path); err != nil {
		return nil, err
	}
	bl, err := s.pages.Backlinks(path)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(bl), nil
}

// RenderMarkdown renders a Markdown document the way the site builder would,
// without storing it. Frontmatter is stripped.
func (s *Service) RenderMarkdown(ctx context.Context, markdown string) (*RenderResult, error) {
	res, err := parser.Parse([]byte(markdown))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	out, err := s.renderer.Render(ctx, []byte(res.Body))
	if err != nil {
		return nil, err
	}
	return &RenderResult{
		RunID:   out.Embed.RunID,
		HTML:    out.HTML,
		TOC:     nonNilSlice(out.TOC),
		Missing: nonNilSlice(out.Missing),
		Embeds:  len(out.Embed.Embeds),
		Fetches: out.Embed.Fetches,
	}, nil
}

// Classify reports how a URL would be embedded.
func (s *Service) Classify(_ context.Context, rawURL string) (*Classification, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.ErrInvalidInput
	}
	c := s.renderer.Transformer().Classifier().Classify(rawURL)
	return &Classification{
		URL:      rawURL,
		Kind:     c.Kind,
		Captures: c.Captures,
		Card:     c.Kind.IsCard(),
	}, nil
}

// Preview renders the markup a single link would produce. Every call uses a
// fresh metadata cache, so the origin is always asked again.
func (s *Service) Preview(ctx context.Context, rawURL, text string) (*Preview, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.ErrInvalidInput
	}
	c := s.renderer.Transformer().Classifier().Classify(rawURL)
	if c.Kind == embed.KindSkip {
		return nil, fmt.Errorf("%w: %s is not an embeddable URL", apperr.ErrInvalidInput, rawURL)
	}

	meta := embed.DefaultMetadata(rawURL)
	if c.Kind.NeedsMetadata() {
		meta = s.renderer.Transformer().Resolver().Resolve(ctx, rawURL, embed.NewCache())
	}
	ref := embed.LinkRef{URL: rawURL, Text: text}
	html, err := embed.Generate(c, ref, meta)
	if err != nil {
		html = embed.FallbackHTML(ref)
	}
	return &Preview{URL: rawURL, Kind: c.Kind, Metadata: meta, HTML: html}, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
