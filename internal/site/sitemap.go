package site

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/starford/embedmark/internal/models"
)

// SitemapPath is the output file the sitemap is written to.
const SitemapPath = "sitemap.xml"

const (
	sitemapNS       = "http://www.sitemaps.org/schemas/sitemap/0.9"
	sitemapPageSize = 500
)

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	NS      string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// writeSitemap lists every published page in sitemap.xml. Sitemap URLs must
// be absolute, so nothing is written without a base URL.
func (b *Builder) writeSitemap() error {
	if b.baseURL == "" {
		return nil
	}
	set := urlSet{NS: sitemapNS}
	for offset := 0; ; offset += sitemapPageSize {
		pages, total, err := b.pages.ListPages(sitemapPageSize, offset, "", false)
		if err != nil {
			return fmt.Errorf("site: sitemap: %w", err)
		}
		for _, p := range pages {
			u := sitemapURL{Loc: b.baseURL + models.SlugURL(p.Slug)}
			if !p.UpdatedAt.IsZero() {
				u.LastMod = p.UpdatedAt.UTC().Format(time.DateOnly)
			}
			set.URLs = append(set.URLs, u)
		}
		if len(pages) == 0 || offset+len(pages) >= total {
			break
		}
	}
	sort.Slice(set.URLs, func(i, j int) bool { return set.URLs[i].Loc < set.URLs[j].Loc })

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return fmt.Errorf("site: sitemap: %w", err)
	}
	buf.WriteByte('\n')
	if err := b.output.Write(SitemapPath, buf.Bytes()); err != nil {
		return fmt.Errorf("site: sitemap: %w", err)
	}
	return nil
}
