package embed

import (
	"context"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Metadata is the preview information extracted from a linked page.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	SiteName    string `json:"site_name"`
}

// DefaultMetadata is what a URL resolves to when nothing could be fetched.
func DefaultMetadata(rawURL string) Metadata {
	return Metadata{SiteName: hostname(rawURL)}
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Cache memoizes metadata by exact URL for one transform run. Entries never
// expire; the first settled result for a URL wins. Concurrent lookups of a
// URL that is still being fetched wait for that fetch instead of starting
// another one.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Metadata
	group   singleflight.Group
	fetches atomic.Int64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Metadata)}
}

// Get returns the settled metadata for url, if any.
func (c *Cache) Get(url string) (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[url]
	return m, ok
}

// Len returns the number of settled entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Fetches returns how many fetches were issued through this cache.
func (c *Cache) Fetches() int {
	return int(c.fetches.Load())
}

func (c *Cache) put(url string, m Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[url]; !ok {
		c.entries[url] = m
	}
}

// Resolver fetches and extracts preview metadata.
type Resolver struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewResolver returns a Resolver using f. A nil logger means slog.Default().
func NewResolver(f Fetcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fetcher: f, logger: logger}
}

// Resolve returns metadata for rawURL, consulting cache first. It never
// fails: any fetch problem is logged and yields DefaultMetadata(rawURL),
// which is cached like a successful result. A nil cache disables
// memoization.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, cache *Cache) Metadata {
	if cache == nil {
		return r.fetch(ctx, rawURL)
	}
	if m, ok := cache.Get(rawURL); ok {
		return m
	}
	v, _, _ := cache.group.Do(rawURL, func() (any, error) {
		if m, ok := cache.Get(rawURL); ok {
			return m, nil
		}
		cache.fetches.Add(1)
		m := r.fetch(ctx, rawURL)
		cache.put(rawURL, m)
		return m, nil
	})
	return v.(Metadata)
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) Metadata {
	body, err := r.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		r.logger.Warn("embed: metadata fetch failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
		return DefaultMetadata(rawURL)
	}
	return Extract(body, rawURL)
}

var (
	ogTitleRe       = metaRe("og:title")
	ogDescriptionRe = metaRe("og:description")
	descriptionRe   = metaRe("description")
	ogImageRe       = metaRe("og:image")
	ogSiteNameRe    = metaRe("og:site_name")
	titleTagRe      = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
)

func metaRe(property string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)<meta[^>]*(?:property|name)=["']` +
		regexp.QuoteMeta(property) +
		`["'][^>]*content=["']([^"']*)["']`)
}

// Extract pulls preview fields out of an HTML document with one pattern
// search per field. It is deliberately lossy: meta tags whose content
// attribute precedes the property attribute are not seen.
func Extract(body, rawURL string) Metadata {
	m := Metadata{
		Title:       firstOf(body, ogTitleRe, titleTagRe),
		Description: firstOf(body, ogDescriptionRe, descriptionRe),
		Image:       firstOf(body, ogImageRe),
		SiteName:    firstOf(body, ogSiteNameRe),
	}
	if m.SiteName == "" {
		m.SiteName = hostname(rawURL)
	}
	return m
}

func firstOf(body string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if sm := re.FindStringSubmatch(body); sm != nil && sm[1] != "" {
			return html.UnescapeString(sm[1])
		}
	}
	return ""
}
