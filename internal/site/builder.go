// Package site builds the static site: it renders every Markdown source to
// <slug>/index.html, keeps the page index in sync, and rebuilds incrementally
// as sources change.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/embedmark/internal/apperr"
	"github.com/starford/embedmark/internal/checksum"
	"github.com/starford/embedmark/internal/index"
	"github.com/starford/embedmark/internal/models"
	"github.com/starford/embedmark/internal/parser"
	"github.com/starford/embedmark/internal/render"
	"github.com/starford/embedmark/internal/storage"
)

// Page event kinds.
const (
	EventBuilt   = "built"
	EventRemoved = "removed"
)

const defaultWorkers = 4

// PageEvent describes one page written to or removed from the output. A
// built draft has no output file.
type PageEvent struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	Slug  string `json:"slug"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Draft bool   `json:"draft,omitempty"`
}

// Listener follows build progress. PageChanged is called from render
// workers, so implementations must be safe for concurrent use and must not
// block.
type Listener interface {
	PageChanged(PageEvent)
	BuildFinished(Stats)
}

// Stats summarizes one build pass.
type Stats struct {
	Built   int           `json:"built"`
	Skipped int           `json:"skipped"`
	Removed int           `json:"removed"`
	Failed  int           `json:"failed"`
	Took    time.Duration `json:"took_ns"`
}

// Changed reports whether the pass wrote or removed any page.
func (s Stats) Changed() bool {
	return s.Built > 0 || s.Removed > 0
}

// Builder renders sources into the output directory. A Builder must not run
// two passes at the same time; Watch serializes its own passes.
type Builder struct {
	renderer    *render.Renderer
	pages       index.PageIndex
	source      storage.Provider
	output      storage.Provider
	siteTitle   string
	baseURL     string
	fingerprint string
	workers     int
	logger      *slog.Logger
	listener    Listener
}

// Option configures a Builder.
type Option func(*Builder)

// WithSite sets the site title and base URL used by the page layout.
func WithSite(title, baseURL string) Option {
	return func(b *Builder) {
		b.siteTitle = title
		b.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithFingerprint binds stored checksums to a fingerprint of everything
// besides the source that affects output. Changing it rebuilds every page.
func WithFingerprint(fp string) Option {
	return func(b *Builder) { b.fingerprint = fp }
}

// WithWorkers bounds how many pages render at once.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithListener registers l for page events and build summaries.
func WithListener(l Listener) Option {
	return func(b *Builder) { b.listener = l }
}

// NewBuilder returns a Builder reading sources from source and writing pages
// to output.
func NewBuilder(r *render.Renderer, pages index.PageIndex, source, output storage.Provider, opts ...Option) *Builder {
	b := &Builder{
		renderer: r,
		pages:    pages,
		source:   source,
		output:   output,
		workers:  defaultWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.workers < 1 {
		b.workers = 1
	}
	return b
}

// OutputPath returns the output file a page slug is written to.
func OutputPath(slug string) string {
	if slug == "" || slug == "index" {
		return "index.html"
	}
	return slug + "/index.html"
}

// Build brings the output directory and index up to date with the sources:
//   - new/changed files are rendered and written
//   - unchanged files are skipped
//   - files removed from disk lose their output and index row
func (b *Builder) Build(ctx context.Context) (*Stats, error) {
	metas, err := b.source.List("")
	if err != nil {
		return nil, fmt.Errorf("site: build: %w", err)
	}
	checksums, err := b.pages.AllChecksums()
	if err != nil {
		return nil, fmt.Errorf("site: build: %w", err)
	}

	disk := make(map[string]struct{}, len(metas))
	var changed []string
	skipped := 0
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		if checksums[m.Path] == b.stamp(m.Checksum) {
			skipped++
			continue
		}
		changed = append(changed, m.Path)
	}
	var removed []string
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			removed = append(removed, p)
		}
	}

	return b.apply(ctx, changed, removed, skipped)
}

// BuildFile renders a single source, plus any pages whose links to it
// changed meaning.
func (b *Builder) BuildFile(ctx context.Context, path string) (*Stats, error) {
	return b.apply(ctx, []string{path}, nil, 0)
}

// RemoveFile drops a deleted source's output and index row, then rebuilds the
// pages that linked to it.
func (b *Builder) RemoveFile(ctx context.Context, path string) (*Stats, error) {
	return b.apply(ctx, nil, []string{path}, 0)
}

// apply removes, then indexes, then renders. Every changed page is indexed
// before any page renders so wiki-links between them resolve in one pass.
func (b *Builder) apply(ctx context.Context, changed, removed []string, skipped int) (*Stats, error) {
	start := time.Now()
	stats := &Stats{Skipped: skipped}
	queue := newQueue()
	queue.exclude(removed...)

	for _, p := range removed {
		deps, err := b.pages.Backlinks(p)
		if err != nil {
			b.logger.Warn("site: backlinks failed", slog.String("path", p), slog.String("error", err.Error()))
		}
		prev, err := b.remove(p)
		if err != nil {
			b.logger.Warn("site: remove failed", slog.String("path", p), slog.String("error", err.Error()))
			stats.Failed++
			continue
		}
		queue.add(deps...)
		if prev == nil {
			continue
		}
		stats.Removed++
		b.logger.Debug("site: removed", slog.String("path", p))
		b.emit(EventRemoved, prev)
	}

	for _, p := range changed {
		deps, err := b.stage(p)
		if err != nil {
			b.logger.Warn("site: index failed", slog.String("path", p), slog.String("error", err.Error()))
			stats.Failed++
			continue
		}
		queue.add(p)
		queue.add(deps...)
	}

	var built, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, p := range queue.items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			page, err := b.renderFile(gctx, p)
			if err != nil {
				b.logger.Warn("site: render failed", slog.String("path", p), slog.String("error", err.Error()))
				failed.Add(1)
				return nil
			}
			built.Add(1)
			b.emit(EventBuilt, page)
			return nil
		})
	}
	err := g.Wait()

	stats.Built = int(built.Load())
	stats.Failed += int(failed.Load())

	if stats.Changed() {
		if serr := b.writeSitemap(); serr != nil {
			b.logger.Warn("site: sitemap failed", slog.String("error", serr.Error()))
		}
	}
	stats.Took = time.Since(start)
	if b.listener != nil {
		b.listener.BuildFinished(*stats)
	}

	if err != nil {
		return stats, fmt.Errorf("site: build: %w", err)
	}
	return stats, nil
}

// stage indexes a changed source without its rendered HTML and returns the
// pages that should be re-rendered because their links to it now resolve
// differently.
func (b *Builder) stage(path string) ([]string, error) {
	data, err := b.source.Read(path)
	if err != nil {
		return nil, err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}

	prev, err := b.pages.GetPage(path)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	page := pageFrom(path, res)
	if prev != nil && prev.Slug != page.Slug {
		if err := b.output.Delete(OutputPath(prev.Slug)); err != nil {
			return nil, err
		}
	}
	// An empty checksum marks the row as unbuilt until renderFile finishes.
	if err := b.pages.UpsertPage(page); err != nil {
		return nil, err
	}

	if prev != nil && prev.Slug == page.Slug && prev.Title == page.Title {
		return nil, nil
	}
	deps, err := b.pages.Backlinks(path)
	if err != nil {
		return nil, err
	}
	return deps, nil
}

// renderFile renders one source, writes its page and stores the result.
func (b *Builder) renderFile(ctx context.Context, path string) (*models.Page, error) {
	data, err := b.source.Read(path)
	if err != nil {
		return nil, err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	page := pageFrom(path, res)

	out, err := b.renderer.Render(ctx, []byte(res.Body))
	if err != nil {
		return nil, err
	}
	if len(out.Missing) > 0 {
		b.logger.Debug("site: unresolved wiki-links",
			slog.String("path", path),
			slog.String("targets", strings.Join(out.Missing, ", ")))
	}

	if page.Draft {
		if err := b.output.Delete(OutputPath(page.Slug)); err != nil {
			return nil, err
		}
	} else {
		var buf bytes.Buffer
		err := render.WritePage(&buf, render.PageData{
			SiteTitle:   b.siteTitle,
			Title:       page.Title,
			Description: page.Description,
			URL:         b.baseURL + page.URL(),
			Tags:        page.Tags,
			TOC:         out.TOC,
			Content:     template.HTML(out.HTML), //nolint:gosec // produced by the renderer
		})
		if err != nil {
			return nil, err
		}
		if err := b.output.Write(OutputPath(page.Slug), buf.Bytes()); err != nil {
			return nil, err
		}
	}

	page.HTML = out.HTML
	page.Checksum = b.stamp(checksum.Sum(data))
	if err := b.pages.UpsertPage(page); err != nil {
		return nil, err
	}
	b.logger.Debug("site: built",
		slog.String("path", path),
		slog.String("slug", page.Slug),
		slog.Int("embeds", len(out.Embed.Embeds)),
		slog.Int("fetches", out.Embed.Fetches))
	return page, nil
}

// remove deletes a page's output and index row and returns the page it
// removed. Unknown paths yield a nil page.
func (b *Builder) remove(path string) (*models.Page, error) {
	prev, err := b.pages.GetPage(path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := b.output.Delete(OutputPath(prev.Slug)); err != nil {
		return nil, err
	}
	if err := b.pages.DeletePage(path); err != nil {
		return nil, err
	}
	return prev, nil
}

func (b *Builder) stamp(sum string) string {
	return checksum.WithFingerprint(sum, b.fingerprint)
}

func (b *Builder) emit(kind string, p *models.Page) {
	if b.listener == nil {
		return
	}
	b.listener.PageChanged(PageEvent{
		Kind:  kind,
		Path:  p.Path,
		Slug:  p.Slug,
		URL:   p.URL(),
		Title: p.Title,
		Draft: p.Draft,
	})
}

func pageFrom(path string, res *parser.Result) *models.Page {
	return &models.Page{
		Path:        path,
		Slug:        parser.SlugFor(path, res),
		Title:       res.Title,
		Description: res.Description,
		Tags:        res.Tags,
		Links:       res.Links,
		Draft:       res.Draft,
		Body:        res.Body,
		UpdatedAt:   time.Now().UTC(),
	}
}

// queue is an insertion-ordered set of paths.
type queue struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	items []string
}

func newQueue() *queue {
	return &queue{seen: make(map[string]struct{})}
}

// exclude keeps paths out of the queue.
func (q *queue) exclude(paths ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range paths {
		q.seen[p] = struct{}{}
	}
}

func (q *queue) add(paths ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range paths {
		if _, ok := q.seen[p]; ok {
			continue
		}
		q.seen[p] = struct{}{}
		q.items = append(q.items, p)
	}
}
