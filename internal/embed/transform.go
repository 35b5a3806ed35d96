package embed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/sync/errgroup"

	"github.com/starford/embedmark/internal/wikilink"
)

// State is the phase of one transform run.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateAwaitingMetadata
	StateDone
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateAwaitingMetadata:
		return "awaiting_metadata"
	case StateDone:
		return "done"
	default:
		return "idle"
	}
}

// WikiLinkClass is the class attribute set on links made from [[...]].
const WikiLinkClass = "wikilink"

const defaultMaxConcurrentFetches = 8

// Result describes what one transform run did to the tree.
type Result struct {
	RunID string
	// Links is the number of link nodes replaced by embed nodes.
	Links int
	// Deferred is the number of embeds whose markup waited on metadata.
	Deferred int
	// Media is the number of ![[...]] embeds spliced into text.
	Media int
	// Fetches is the number of metadata fetches actually issued.
	Fetches int
	// Embeds holds every embed node created, in document order for links
	// followed by media.
	Embeds []*Node
	// InternalLinks holds the link nodes created for [[...]] references.
	InternalLinks []*ast.Link
	// States lists the phases the run went through.
	States []State
}

// Transformer rewrites link and text nodes of a parsed document.
type Transformer struct {
	classifier  *Classifier
	resolver    *Resolver
	splitter    *wikilink.Splitter
	concurrency int
	logger      *slog.Logger
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithClassifier sets the URL classifier.
func WithClassifier(c *Classifier) Option {
	return func(t *Transformer) { t.classifier = c }
}

// WithResolver sets the metadata resolver.
func WithResolver(r *Resolver) Option {
	return func(t *Transformer) { t.resolver = r }
}

// WithSplitter sets the wiki-link splitter.
func WithSplitter(s *wikilink.Splitter) Option {
	return func(t *Transformer) { t.splitter = s }
}

// WithConcurrency bounds the number of metadata fetches in flight per run.
// n <= 0 removes the bound.
func WithConcurrency(n int) Option {
	return func(t *Transformer) { t.concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transformer) { t.logger = l }
}

// NewTransformer returns a Transformer. Unset collaborators get defaults:
// no internal domain, a network fetcher, and the default content host.
func NewTransformer(opts ...Option) *Transformer {
	t := &Transformer{concurrency: defaultMaxConcurrentFetches}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.classifier == nil {
		t.classifier = NewClassifier("")
	}
	if t.resolver == nil {
		t.resolver = NewResolver(NewHTTPFetcher(), t.logger)
	}
	if t.splitter == nil {
		t.splitter = wikilink.New("https://content.example.com", "assets")
	}
	return t
}

// Classifier returns the classifier in use.
func (t *Transformer) Classifier() *Classifier { return t.classifier }

// Resolver returns the metadata resolver in use.
func (t *Transformer) Resolver() *Resolver { return t.resolver }

// Splitter returns the wiki-link splitter in use.
func (t *Transformer) Splitter() *wikilink.Splitter { return t.splitter }

type run struct {
	*Transformer
	ctx    context.Context
	source []byte
	cache  *Cache
	tasks  []func()
	res    *Result
	logger *slog.Logger
}

// Transform rewrites doc in place and returns once every embed has its final
// markup. Links become embed nodes; text runs containing bracket markers are
// split into text, embed and link nodes. A run is never aborted: failed or
// cancelled fetches produce default metadata.
func (t *Transformer) Transform(ctx context.Context, doc ast.Node, source []byte) *Result {
	id := uuid.NewString()
	r := &run{
		Transformer: t,
		ctx:         ctx,
		source:      source,
		cache:       NewCache(),
		res:         &Result{RunID: id},
		logger:      t.logger.With(slog.String("run", id)),
	}
	start := time.Now()

	r.enter(StateIdle)
	r.enter(StateScanning)
	r.linkPass(doc)
	r.textPass(doc)

	if len(r.tasks) > 0 {
		r.enter(StateAwaitingMetadata)
		r.await()
	}
	r.enter(StateDone)

	r.res.Fetches = r.cache.Fetches()
	r.logger.Debug("embed: transform complete",
		slog.Int("links", r.res.Links),
		slog.Int("deferred", r.res.Deferred),
		slog.Int("media", r.res.Media),
		slog.Int("internal_links", len(r.res.InternalLinks)),
		slog.Int("fetches", r.res.Fetches),
		slog.Duration("elapsed", time.Since(start)))
	return r.res
}

func (r *run) enter(s State) {
	r.res.States = append(r.res.States, s)
	r.logger.Debug("embed: state", slog.String("state", s.String()))
}

// linkPass replaces every classifiable link with an embed node. Nodes are
// collected first and replaced after the walk.
func (r *run) linkPass(doc ast.Node) {
	var links []ast.Node
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Link:
			links = append(links, n)
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			if v.AutoLinkType == ast.AutoLinkURL {
				links = append(links, n)
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	for _, n := range links {
		ref := r.linkRef(n)
		c := r.classifier.Classify(ref.URL)
		if c.Kind == KindSkip {
			continue
		}

		node := NewNode(c.Kind, ref.URL)
		parent := n.Parent()
		parent.ReplaceChild(parent, n, node)
		r.res.Links++
		r.res.Embeds = append(r.res.Embeds, node)

		if !c.Kind.NeedsMetadata() {
			node.HTML = r.generate(c, ref, DefaultMetadata(ref.URL))
			continue
		}

		r.res.Deferred++
		r.tasks = append(r.tasks, func() {
			meta := r.resolver.Resolve(r.ctx, ref.URL, r.cache)
			node.HTML = r.generate(c, ref, meta)
		})
	}
}

func (r *run) generate(c Classification, ref LinkRef, meta Metadata) string {
	out, err := Generate(c, ref, meta)
	if err != nil {
		r.logger.Warn("embed: markup failed",
			slog.String("url", ref.URL),
			slog.String("error", err.Error()))
		return FallbackHTML(ref)
	}
	return out
}

func (r *run) linkRef(n ast.Node) LinkRef {
	switch v := n.(type) {
	case *ast.Link:
		return LinkRef{URL: string(v.Destination), Text: textOf(v, r.source)}
	case *ast.AutoLink:
		return LinkRef{URL: string(v.URL(r.source)), Text: string(v.Label(r.source))}
	}
	return LinkRef{}
}

// textOf concatenates the text of every descendant of n.
func textOf(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// textRun is a maximal sequence of adjacent text siblings whose segments are
// contiguous in the source. The inline parser splits "[[x]]" across several
// text nodes, so markers are only visible on the joined run.
type textRun struct {
	parent ast.Node
	nodes  []*ast.Text
}

func (tr textRun) segment() text.Segment {
	return text.NewSegment(tr.nodes[0].Segment.Start, tr.nodes[len(tr.nodes)-1].Segment.Stop)
}

func (tr textRun) last() *ast.Text {
	return tr.nodes[len(tr.nodes)-1]
}

func (r *run) textPass(doc ast.Node) {
	var runs []textRun
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.CodeSpan, *ast.Link, *ast.AutoLink, *ast.Image:
			return ast.WalkSkipChildren, nil
		}
		if n.HasChildren() {
			runs = append(runs, collectRuns(n)...)
		}
		return ast.WalkContinue, nil
	})

	for _, tr := range runs {
		seg := tr.segment()
		raw := string(seg.Value(r.source))
		if !wikilink.HasMarkers(raw) {
			continue
		}
		frags := r.splitter.Split(raw)
		if !changes(frags) {
			continue
		}
		r.splice(tr, seg.Start, frags)
	}
}

func collectRuns(parent ast.Node) []textRun {
	var runs []textRun
	var cur []*ast.Text
	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, textRun{parent: parent, nodes: cur})
			cur = nil
		}
	}
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		t, ok := c.(*ast.Text)
		if !ok || t.IsRaw() {
			flush()
			continue
		}
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			if prev.SoftLineBreak() || prev.HardLineBreak() || prev.Segment.Stop != t.Segment.Start {
				flush()
			}
		}
		cur = append(cur, t)
	}
	flush()
	return runs
}

func changes(frags []wikilink.Fragment) bool {
	for _, f := range frags {
		if f.Kind != wikilink.FragmentText {
			return true
		}
	}
	return false
}

// splice builds the replacement nodes for a run, then swaps them in where the
// run was.
func (r *run) splice(tr textRun, base int, frags []wikilink.Fragment) {
	nodes := make([]ast.Node, 0, len(frags)+1)
	for _, f := range frags {
		switch f.Kind {
		case wikilink.FragmentMarkup:
			node := NewNode(KindMedia, f.Path)
			node.HTML = f.HTML
			nodes = append(nodes, node)
			r.res.Embeds = append(r.res.Embeds, node)
			r.res.Media++
		case wikilink.FragmentInternal:
			link := ast.NewLink()
			link.Destination = []byte(f.Path)
			link.AppendChild(link, ast.NewString([]byte(f.Display)))
			link.SetAttributeString("class", []byte(WikiLinkClass))
			nodes = append(nodes, link)
			r.res.InternalLinks = append(r.res.InternalLinks, link)
		default:
			nodes = append(nodes, ast.NewTextSegment(text.NewSegment(base+f.Start, base+f.End)))
		}
	}

	last := tr.last()
	if last.SoftLineBreak() || last.HardLineBreak() {
		tail, ok := nodes[len(nodes)-1].(*ast.Text)
		if !ok {
			stop := last.Segment.Stop
			tail = ast.NewTextSegment(text.NewSegment(stop, stop))
			nodes = append(nodes, tail)
		}
		tail.SetSoftLineBreak(last.SoftLineBreak())
		tail.SetHardLineBreak(last.HardLineBreak())
	}

	first := tr.nodes[0]
	for _, n := range nodes {
		tr.parent.InsertBefore(tr.parent, first, n)
	}
	for _, t := range tr.nodes {
		tr.parent.RemoveChild(tr.parent, t)
	}
}

// await runs every deferred task and returns when all have settled.
func (r *run) await() {
	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for _, task := range r.tasks {
		g.Go(func() error {
			task()
			return nil
		})
	}
	_ = g.Wait()
}
