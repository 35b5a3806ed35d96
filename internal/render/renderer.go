// Package render turns Markdown sources into HTML: goldmark parsing, link
// embedding, wiki-link resolution and table-of-contents extraction.
package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/starford/embedmark/internal/embed"
)

// Output is the result of rendering one document.
type Output struct {
	HTML string
	TOC  []TOCEntry
	// Missing lists wiki-link targets no page could be found for.
	Missing []string
	Embed   *embed.Result
}

// Renderer renders Markdown documents. It is safe for concurrent use; each
// Render call gets its own embed run and metadata cache.
type Renderer struct {
	md          goldmark.Markdown
	transformer *embed.Transformer
	links       LinkResolver
	unsafe      bool
	logger      *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLinkResolver sets how wiki-link targets become URLs.
func WithLinkResolver(l LinkResolver) Option {
	return func(r *Renderer) { r.links = l }
}

// WithUnsafeHTML passes raw HTML in Markdown through to the output.
func WithUnsafeHTML(unsafe bool) Option {
	return func(r *Renderer) { r.unsafe = unsafe }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// New returns a Renderer that embeds links with t.
func New(t *embed.Transformer, opts ...Option) *Renderer {
	r := &Renderer{transformer: t}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.transformer == nil {
		r.transformer = embed.NewTransformer(embed.WithLogger(r.logger))
	}
	if r.links == nil {
		r.links = SlugResolver{}
	}

	var rendererOpts []goldmark.Option
	if r.unsafe {
		rendererOpts = append(rendererOpts, goldmark.WithRendererOptions(html.WithUnsafe()))
	}
	r.md = goldmark.New(append(rendererOpts,
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithExtensions(
			extension.GFM,
			embed.Extension,
		),
	)...)
	return r
}

// Transformer returns the embed transformer in use.
func (r *Renderer) Transformer() *embed.Transformer {
	return r.transformer
}

// Render converts source to HTML. Metadata fetch failures never fail a
// render; they only degrade the affected cards.
func (r *Renderer) Render(ctx context.Context, source []byte) (*Output, error) {
	pc := parser.NewContext(parser.WithIDs(newHeadingIDs()))
	doc := r.md.Parser().Parse(text.NewReader(source), parser.WithContext(pc))

	res := r.transformer.Transform(ctx, doc, source)
	missing := resolveInternalLinks(r.links, res.InternalLinks)

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, source, doc); err != nil {
		return nil, fmt.Errorf("render: html: %w", err)
	}

	toc, err := buildTOC(buf.Bytes())
	if err != nil {
		r.logger.Warn("render: toc failed", slog.String("error", err.Error()))
	}

	return &Output{
		HTML:    buf.String(),
		TOC:     toc,
		Missing: missing,
		Embed:   res,
	}, nil
}
