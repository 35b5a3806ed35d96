package site

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/starford/embedmark/internal/apperr"
	"github.com/starford/embedmark/internal/embed"
	"github.com/starford/embedmark/internal/index"
	"github.com/starford/embedmark/internal/render"
	"github.com/starford/embedmark/internal/storage"
	"github.com/starford/embedmark/internal/testutil"
)

type testEnv struct {
	src    string
	out    string
	db     *index.DB
	store  storage.Provider
	output storage.Provider

	mu     sync.Mutex
	events []PageEvent
	builds []Stats
}

func (e *testEnv) PageChanged(ev PageEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *testEnv) BuildFinished(s Stats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.builds = append(e.builds, s)
}

// event returns the first event for kind and path.
func (e *testEnv) event(kind, path string) (PageEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.Kind == kind && ev.Path == path {
			return ev, true
		}
	}
	return PageEvent{}, false
}

func (e *testEnv) seen(event string) bool {
	kind, path, _ := strings.Cut(event, ":")
	_, ok := e.event(kind, path)
	return ok
}

func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	t.Helper()
	src, store := testutil.TestContent(t, files)
	out := t.TempDir()
	output, err := storage.NewFS(out)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{src: src, out: out, db: testutil.TestDB(t), store: store, output: output}
}

func (e *testEnv) builder(opts ...Option) *Builder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	offline := embed.FetcherFunc(func(context.Context, string) (string, error) {
		return "", errors.New("offline")
	})
	tr := embed.NewTransformer(
		embed.WithResolver(embed.NewResolver(offline, logger)),
		embed.WithLogger(logger),
	)
	r := render.New(tr,
		render.WithLinkResolver(render.IndexResolver{Pages: e.db}),
		render.WithLogger(logger),
	)
	base := []Option{
		WithSite("Test Site", "https://site.test/"),
		WithWorkers(2),
		WithLogger(logger),
		WithListener(e),
	}
	return NewBuilder(r, e.db, e.store, e.output, append(base, opts...)...)
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(e.src, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) page(t *testing.T, rel string) *goquery.Document {
	t.Helper()
	f, err := os.Open(filepath.Join(e.out, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("open output %s: %v", rel, err)
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func (e *testEnv) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(e.out, filepath.FromSlash(rel)))
	return err == nil
}

var siteFiles = map[string]string{
	"index.md":      "# Home\n\nRead the [[Guide]].\n",
	"docs/guide.md": "---\ntitle: Guide\ndescription: How to\n---\nBack [[Home]], see [[Nope]].\n\n![[diagram.png]]\n",
	"draft.md":      "---\ndraft: true\n---\n# Draft\n",
}

func TestBuild_WritesPages(t *testing.T) {
	env := newTestEnv(t, siteFiles)
	stats, err := env.builder().Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Built != 3 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}

	home := env.page(t, "index.html")
	if href, _ := home.Find("article a.wikilink").Attr("href"); href != "/docs/guide/" {
		t.Errorf("home link href = %q", href)
	}
	if got := home.Find("title").Text(); got != "Home | Test Site" {
		t.Errorf("home title = %q", got)
	}

	guide := env.page(t, "docs/guide/index.html")
	links := guide.Find("article a.wikilink")
	if href, _ := links.Eq(0).Attr("href"); href != "/" {
		t.Errorf("guide back link = %q", href)
	}
	if !links.Eq(1).HasClass(render.MissingClass) {
		t.Error("link to a missing page should be marked")
	}
	if src, _ := guide.Find("article img").Attr("src"); !strings.HasSuffix(src, "/assets/diagram.png") {
		t.Errorf("media src = %q", src)
	}
	if c, _ := guide.Find(`link[rel="canonical"]`).Attr("href"); c != "https://site.test/docs/guide/" {
		t.Errorf("canonical = %q", c)
	}

	if env.exists("draft/index.html") {
		t.Error("draft page should not be written")
	}
	p, err := env.db.GetPage("draft.md")
	if err != nil || !p.Draft {
		t.Errorf("draft should be indexed: %+v, %v", p, err)
	}
}

func TestBuild_SkipsUnchanged(t *testing.T) {
	env := newTestEnv(t, siteFiles)
	b := env.builder()
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	stats, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Built != 0 || stats.Skipped != 3 {
		t.Errorf("second build stats = %+v", stats)
	}
}

func TestBuild_FingerprintChangeRebuilds(t *testing.T) {
	env := newTestEnv(t, siteFiles)
	if _, err := env.builder(WithFingerprint("v1")).Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	stats, err := env.builder(WithFingerprint("v2")).Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Built != 3 || stats.Skipped != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBuild_RemovesDeletedSources(t *testing.T) {
	env := newTestEnv(t, siteFiles)
	b := env.builder()
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(env.src, "docs", "guide.md")); err != nil {
		t.Fatal(err)
	}
	stats, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Removed != 1 {
		t.Errorf("removed = %d", stats.Removed)
	}
	if env.exists("docs/guide/index.html") || env.exists("docs") {
		t.Error("output of a deleted source should be gone")
	}
	if _, err := env.db.GetPage("docs/guide.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetPage err = %v", err)
	}
	// index.md linked to the guide, so it is rebuilt with a missing link.
	if stats.Built != 1 {
		t.Errorf("built = %d, want the backlinking page only", stats.Built)
	}
	if !env.page(t, "index.html").Find("article a.wikilink").HasClass(render.MissingClass) {
		t.Error("link to the removed page should be marked missing")
	}
	if !env.seen("removed:docs/guide.md") {
		t.Errorf("events = %v", env.events)
	}
}

func TestBuildFile_RebuildsBacklinks(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "Go to [[B]].\n"})
	b := env.builder()
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !env.page(t, "a/index.html").Find("a.wikilink").HasClass(render.MissingClass) {
		t.Fatal("precondition: link should be missing")
	}

	env.write(t, "b.md", "# B\n")
	stats, err := b.BuildFile(context.Background(), "b.md")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Built != 2 {
		t.Errorf("built = %d, want the new page and its backlink", stats.Built)
	}
	a := env.page(t, "a/index.html").Find("a.wikilink")
	if a.HasClass(render.MissingClass) {
		t.Error("link should resolve once the page exists")
	}
	if href, _ := a.Attr("href"); href != "/b/" {
		t.Errorf("href = %q", href)
	}
	if !env.seen("built:a.md") || !env.seen("built:b.md") {
		t.Errorf("events = %v", env.events)
	}
}

func TestBuildFile_SlugChangeMovesOutput(t *testing.T) {
	env := newTestEnv(t, map[string]string{"p.md": "# P\n"})
	b := env.builder()
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	env.write(t, "p.md", "---\nslug: custom\n---\n# P\n")
	if _, err := b.BuildFile(context.Background(), "p.md"); err != nil {
		t.Fatal(err)
	}
	if env.exists("p/index.html") {
		t.Error("old output should be removed")
	}
	if !env.exists("custom/index.html") {
		t.Error("new output missing")
	}
}

func TestBuild_Cancelled(t *testing.T) {
	env := newTestEnv(t, siteFiles)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := env.builder().Build(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct{ slug, want string }{
		{"index", "index.html"},
		{"", "index.html"},
		{"about", "about/index.html"},
		{"docs/guide", "docs/guide/index.html"},
	}
	for _, tt := range tests {
		if got := OutputPath(tt.slug); got != tt.want {
			t.Errorf("OutputPath(%q) = %q, want %q", tt.slug, got, tt.want)
		}
	}
}

func TestBuild_PageEventsCarryPageDetails(t *testing.T) {
	env := newTestEnv(t, siteFiles)
	b := env.builder()
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}

	ev, ok := env.event(EventBuilt, "docs/guide.md")
	if !ok {
		t.Fatalf("events = %+v", env.events)
	}
	want := PageEvent{Kind: EventBuilt, Path: "docs/guide.md", Slug: "docs/guide", URL: "/docs/guide/", Title: "Guide"}
	if ev != want {
		t.Errorf("event = %+v, want %+v", ev, want)
	}
	if draft, _ := env.event(EventBuilt, "draft.md"); !draft.Draft {
		t.Errorf("draft event = %+v", draft)
	}

	if err := os.Remove(filepath.Join(env.src, "index.md")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	gone, ok := env.event(EventRemoved, "index.md")
	if !ok || gone.URL != "/" || gone.Title != "Home" {
		t.Errorf("removed event = %+v", gone)
	}
}

func TestBuild_ReportsStatsToListener(t *testing.T) {
	env := newTestEnv(t, siteFiles)
	b := env.builder()
	for range 2 {
		if _, err := b.Build(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if len(env.builds) != 2 {
		t.Fatalf("builds = %+v", env.builds)
	}
	if first := env.builds[0]; first.Built != 3 || !first.Changed() {
		t.Errorf("first = %+v", first)
	}
	if second := env.builds[1]; second.Skipped != 3 || second.Changed() {
		t.Errorf("second = %+v", second)
	}
}

func TestBuild_WritesSitemap(t *testing.T) {
	env := newTestEnv(t, siteFiles)
	b := env.builder()
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(env.out, SitemapPath))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	var locs []string
	doc.Find("url loc").Each(func(_ int, s *goquery.Selection) {
		locs = append(locs, s.Text())
	})
	want := []string{"https://site.test/", "https://site.test/docs/guide/"}
	if strings.Join(locs, " ") != strings.Join(want, " ") {
		t.Errorf("locs = %v, want %v", locs, want)
	}
	if doc.Find("url lastmod").Length() != 2 {
		t.Error("lastmod missing")
	}

	if err := os.Remove(filepath.Join(env.src, "docs", "guide.md")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err = os.ReadFile(filepath.Join(env.out, SitemapPath))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "docs/guide") {
		t.Errorf("removed page still listed: %s", data)
	}
}

func TestBuild_NoSitemapWithoutBaseURL(t *testing.T) {
	env := newTestEnv(t, siteFiles)
	if _, err := env.builder(WithSite("Test Site", "")).Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if env.exists(SitemapPath) {
		t.Error("sitemap written without a base URL")
	}
}
