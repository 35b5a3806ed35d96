// Package parser extracts frontmatter, wiki-link targets and tags from
// Markdown sources.
package parser

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"

	"github.com/starford/embedmark/internal/wikilink"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#(\p{L}[\p{L}\p{N}_/-]*)`)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Links       []string
	Tags        []string
	Title       string
	Description string
	Slug        string
	Draft       bool
}

// Parse extracts frontmatter, body, wiki-link targets and tags from raw
// Markdown bytes. Slug is only set when the frontmatter names one; see
// SlugFor.
func Parse(data []byte) (*Result, error) {
	fm, body := splitFrontmatter(data)

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       wikilink.Targets(stripCode(body)),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
		Description: stringField(fm, "description"),
		Slug:        slugField(fm),
		Draft:       boolField(fm, "draft"),
	}, nil
}

// SlugFor returns the URL slug of the page at path: the frontmatter slug if
// set, otherwise the slugified file path without extension.
func SlugFor(path string, r *Result) string {
	if r != nil && r.Slug != "" {
		return r.Slug
	}
	stem := strings.TrimSuffix(filepath.ToSlash(path), filepath.Ext(path))
	parts := strings.Split(stem, "/")
	for i, p := range parts {
		parts[i] = slug.Make(p)
	}
	return strings.Join(parts, "/")
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. Without frontmatter, or with invalid YAML, the
// whole input is body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

// stripCode blanks fenced code blocks so bracket notation inside them is not
// counted as a link.
func stripCode(body string) string {
	if !strings.Contains(body, "```") && !strings.Contains(body, "~~~") {
		return body
	}
	lines := strings.Split(body, "\n")
	fence := ""
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case fence == "" && (strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")):
			fence = trimmed[:3]
			lines[i] = ""
		case fence != "":
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

// extractTags collects #tags from body and from the frontmatter "tags" field.
func extractTags(body string, fm map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if raw, ok := fm["tags"]; ok {
		switch v := raw.(type) {
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				add(s)
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(stripCode(body), -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]any, body string) string {
	if s := stringField(fm, "title"); s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

func slugField(fm map[string]any) string {
	s := stringField(fm, "slug")
	if s == "" {
		return ""
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	for i, p := range parts {
		parts[i] = slug.Make(p)
	}
	return strings.Join(parts, "/")
}

func stringField(fm map[string]any, key string) string {
	if s, ok := fm[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func boolField(fm map[string]any, key string) bool {
	b, _ := fm[key].(bool)
	return b
}
