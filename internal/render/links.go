package render

import (
	"strings"

	"github.com/gosimple/slug"
	"github.com/yuin/goldmark/ast"

	"github.com/starford/embedmark/internal/embed"
	"github.com/starford/embedmark/internal/models"
)

// MissingClass is added to wiki-links whose target page does not exist.
const MissingClass = "wikilink-missing"

// LinkResolver maps a wiki-link target (without any #fragment) to the URL of
// the page it names.
type LinkResolver interface {
	ResolveLink(target string) (url string, found bool)
}

// TargetLookup finds the page a wiki-link target names.
type TargetLookup interface {
	ResolveTarget(target string) (*models.PageSummary, error)
}

// IndexResolver resolves targets against the page index.
type IndexResolver struct {
	Pages TargetLookup
}

// ResolveLink implements LinkResolver.
func (r IndexResolver) ResolveLink(target string) (string, bool) {
	if r.Pages == nil {
		return FallbackURL(target), false
	}
	p, err := r.Pages.ResolveTarget(target)
	if err != nil {
		return FallbackURL(target), false
	}
	return models.SlugURL(p.Slug), true
}

// SlugResolver assumes every target exists at its slugified path.
type SlugResolver struct{}

// ResolveLink implements LinkResolver.
func (SlugResolver) ResolveLink(target string) (string, bool) {
	return FallbackURL(target), true
}

// FallbackURL is the URL a target would have if a page with that name existed.
func FallbackURL(target string) string {
	parts := strings.Split(strings.Trim(strings.TrimSpace(target), "/"), "/")
	for i, p := range parts {
		parts[i] = slug.Make(p)
	}
	return "/" + strings.Join(parts, "/") + "/"
}

// splitTarget separates "Page#Section" into the page and a heading anchor.
func splitTarget(raw string) (target, anchor string) {
	target, section, ok := strings.Cut(raw, "#")
	if ok && section != "" {
		anchor = "#" + HeadingID(section)
	}
	return strings.TrimSpace(target), anchor
}

// resolveInternalLinks rewrites each link's destination in place and returns
// the targets that could not be found.
func resolveInternalLinks(r LinkResolver, links []*ast.Link) []string {
	var missing []string
	seen := make(map[string]struct{})
	for _, link := range links {
		target, anchor := splitTarget(string(link.Destination))
		if target == "" {
			link.Destination = []byte(anchor)
			continue
		}
		url, found := r.ResolveLink(target)
		link.Destination = []byte(url + anchor)
		if found {
			continue
		}
		link.SetAttributeString("class", []byte(embed.WikiLinkClass+" "+MissingClass))
		if _, ok := seen[target]; !ok {
			seen[target] = struct{}{}
			missing = append(missing, target)
		}
	}
	return missing
}
