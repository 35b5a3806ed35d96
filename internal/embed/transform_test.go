package embed

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/starford/embedmark/internal/wikilink"
)

const contentBase = "https://content.example.com"

var testMarkdown = goldmark.New(goldmark.WithExtensions(extension.Linkify, Extension))

func failingFetcher(calls *atomic.Int32) Fetcher {
	return FetcherFunc(func(context.Context, string) (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		return "", errors.New("unreachable")
	})
}

func newTestTransformer(f Fetcher) *Transformer {
	logger := quietLogger()
	return NewTransformer(
		WithClassifier(NewClassifier("blog.example.org")),
		WithResolver(NewResolver(f, logger)),
		WithSplitter(wikilink.New(contentBase, "assets")),
		WithLogger(logger),
	)
}

// transform parses src, runs tr over it and renders the result.
func transform(t *testing.T, tr *Transformer, src string) (string, *Result, ast.Node) {
	t.Helper()
	source := []byte(src)
	doc := testMarkdown.Parser().Parse(text.NewReader(source))
	res := tr.Transform(context.Background(), doc, source)
	var buf bytes.Buffer
	if err := testMarkdown.Renderer().Render(&buf, source, doc); err != nil {
		t.Fatalf("render: %v", err)
	}
	return buf.String(), res, doc
}

func query(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestTransform_YouTubeLink(t *testing.T) {
	out, res, _ := transform(t, newTestTransformer(failingFetcher(nil)), "[text](https://youtube.com/watch?v=abc123)")
	src, _ := query(t, out).Find(".youtube-embed iframe").Attr("src")
	if !strings.HasSuffix(src, "/embed/abc123") {
		t.Errorf("iframe src = %q in %q", src, out)
	}
	if res.Links != 1 || res.Deferred != 0 {
		t.Errorf("result = %+v", res)
	}
	want := []State{StateIdle, StateScanning, StateDone}
	if !equalStates(res.States, want) {
		t.Errorf("states = %v, want %v", res.States, want)
	}
}

func TestTransform_MediaImage(t *testing.T) {
	out, res, _ := transform(t, newTestTransformer(failingFetcher(nil)), "![[photo.png]]")
	img := query(t, out).Find("img")
	if img.Length() != 1 {
		t.Fatalf("no image in %q", out)
	}
	if src, _ := img.Attr("src"); src != contentBase+"/assets/photo.png" {
		t.Errorf("src = %q", src)
	}
	if alt, _ := img.Attr("alt"); alt != "photo.png" {
		t.Errorf("alt = %q", alt)
	}
	if res.Media != 1 {
		t.Errorf("media = %d", res.Media)
	}
	if strings.Contains(out, "[[") {
		t.Errorf("marker left in output: %q", out)
	}
}

func TestTransform_MediaVideo(t *testing.T) {
	out, _, _ := transform(t, newTestTransformer(failingFetcher(nil)), "![[assets/clip.mp4|My Clip]]")
	video := query(t, out).Find("video")
	if video.Length() != 1 {
		t.Fatalf("no video in %q", out)
	}
	if src, _ := video.Attr("src"); src != contentBase+"/assets/clip.mp4" {
		t.Errorf("src = %q", src)
	}
	if alt, _ := video.Attr("alt"); alt != "My Clip" {
		t.Errorf("alt = %q", alt)
	}
	if _, ok := video.Attr("controls"); !ok {
		t.Error("video has no controls attribute")
	}
}

func TestTransform_InternalReference(t *testing.T) {
	out, res, _ := transform(t, newTestTransformer(failingFetcher(nil)), "[[Some Page]]")
	if len(res.InternalLinks) != 1 {
		t.Fatalf("internal links = %d", len(res.InternalLinks))
	}
	link := res.InternalLinks[0]
	if string(link.Destination) != "Some Page" {
		t.Errorf("destination = %q", link.Destination)
	}
	a := query(t, out).Find("a." + WikiLinkClass)
	if a.Length() != 1 || a.Text() != "Some Page" {
		t.Errorf("wikilink anchor missing in %q", out)
	}
}

func TestTransform_FailedFetchCard(t *testing.T) {
	var calls atomic.Int32
	out, res, _ := transform(t, newTestTransformer(failingFetcher(&calls)), "[my post](https://example.com/post)")
	doc := query(t, out)
	card := doc.Find("div.link-card.external")
	if card.Length() != 1 {
		t.Fatalf("no external card in %q", out)
	}
	if got := card.Find("h4").Text(); got != "my post" {
		t.Errorf("title = %q", got)
	}
	if got := card.Find(".link-card-site").Text(); got != "example.com" {
		t.Errorf("site = %q", got)
	}
	if card.Find("img").Length() != 0 || card.Find(".link-card-image").Length() != 0 {
		t.Error("card has an image block")
	}
	if res.Deferred != 1 || calls.Load() != 1 {
		t.Errorf("deferred = %d, calls = %d", res.Deferred, calls.Load())
	}
	want := []State{StateIdle, StateScanning, StateAwaitingMetadata, StateDone}
	if !equalStates(res.States, want) {
		t.Errorf("states = %v, want %v", res.States, want)
	}
}

func TestTransform_DuplicateURLsFetchOnce(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return `<meta property="og:title" content="Shared">`, nil
	})
	src := "[a](https://example.com/x) and [b](https://example.com/x)\n\nagain https://example.com/x"
	out, res, _ := transform(t, newTestTransformer(f), src)
	if calls.Load() != 1 || res.Fetches != 1 {
		t.Errorf("calls = %d, fetches = %d, want 1", calls.Load(), res.Fetches)
	}
	if got := query(t, out).Find("h4").Length(); got != 3 {
		t.Errorf("cards = %d, want 3", got)
	}
}

func TestTransform_FreshCachePerRun(t *testing.T) {
	var calls atomic.Int32
	tr := newTestTransformer(failingFetcher(&calls))
	transform(t, tr, "[a](https://example.com/x)")
	transform(t, tr, "[a](https://example.com/x)")
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want one per run", calls.Load())
	}
}

func TestTransform_SkipsRelativeLinks(t *testing.T) {
	out, res, _ := transform(t, newTestTransformer(failingFetcher(nil)), "[docs](/docs/intro) and [top](#top)")
	if res.Links != 0 {
		t.Errorf("links = %d", res.Links)
	}
	doc := query(t, out)
	if doc.Find(`a[href="/docs/intro"]`).Length() != 1 {
		t.Errorf("relative link not preserved: %q", out)
	}
}

func TestTransform_SpotifyNoFetch(t *testing.T) {
	var calls atomic.Int32
	out, res, _ := transform(t, newTestTransformer(failingFetcher(&calls)), "[song](https://open.spotify.com/track/abc?si=1)")
	if calls.Load() != 0 || res.Deferred != 0 {
		t.Errorf("calls = %d, deferred = %d", calls.Load(), res.Deferred)
	}
	if !strings.Contains(out, "embed/track/abc?") {
		t.Errorf("out = %q", out)
	}
}

func TestTransform_AutoLink(t *testing.T) {
	out, res, _ := transform(t, newTestTransformer(failingFetcher(nil)), "see https://github.com/yuin/goldmark today")
	if res.Links != 1 {
		t.Fatalf("links = %d in %q", res.Links, out)
	}
	if query(t, out).Find("div.link-card.github").Length() != 1 {
		t.Errorf("no github card in %q", out)
	}
}

func TestTransform_PreservesSiblingOrder(t *testing.T) {
	src := "before ![[a.png]] middle [[Page|the page]] after"
	out, _, doc := transform(t, newTestTransformer(failingFetcher(nil)), src)

	para := doc.FirstChild()
	var kinds []string
	for c := para.FirstChild(); c != nil; c = c.NextSibling() {
		kinds = append(kinds, c.Kind().String())
	}
	want := []string{"Text", "Embed", "Text", "Link", "Text"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("children = %v, want %v", kinds, want)
	}

	p := query(t, out).Find("p")
	text := p.Text()
	if !strings.HasPrefix(text, "before ") || !strings.HasSuffix(text, " after") || !strings.Contains(text, " middle the page ") {
		t.Errorf("paragraph text = %q", text)
	}
}

func TestTransform_KeepsLineBreaks(t *testing.T) {
	src := "first [[A]]\nsecond line"
	out, _, _ := transform(t, newTestTransformer(failingFetcher(nil)), src)
	if !strings.Contains(out, "</a>\nsecond line") {
		t.Errorf("soft line break lost: %q", out)
	}
}

func TestTransform_IgnoresCode(t *testing.T) {
	src := "`[[Inline]]` and\n\n```\n![[block.png]]\n```\n"
	out, res, _ := transform(t, newTestTransformer(failingFetcher(nil)), src)
	if res.Media != 0 || len(res.InternalLinks) != 0 {
		t.Errorf("code was transformed: %+v", res)
	}
	if !strings.Contains(out, "<code>[[Inline]]</code>") {
		t.Errorf("inline code changed: %q", out)
	}
}

func TestTransform_NothingToDo(t *testing.T) {
	out, res, _ := transform(t, newTestTransformer(failingFetcher(nil)), "plain *text* only")
	if res.Links != 0 || res.Media != 0 || len(res.Embeds) != 0 {
		t.Errorf("result = %+v", res)
	}
	if out != "<p>plain <em>text</em> only</p>\n" {
		t.Errorf("out = %q", out)
	}
	if res.RunID == "" {
		t.Error("empty run id")
	}
}

func TestTransform_ConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	f := FetcherFunc(func(context.Context, string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer inFlight.Add(-1)
		return "", nil
	})
	logger := quietLogger()
	tr := NewTransformer(WithResolver(NewResolver(f, logger)), WithConcurrency(2), WithLogger(logger))

	var b strings.Builder
	for i := range 10 {
		b.WriteString("[x](https://example.com/")
		b.WriteByte(byte('a' + i))
		b.WriteString(")\n\n")
	}
	_, res, _ := transform(t, tr, b.String())
	if res.Deferred != 10 {
		t.Errorf("deferred = %d", res.Deferred)
	}
	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak.Load())
	}
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
