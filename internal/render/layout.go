package render

import (
	"fmt"
	"html/template"
	"io"

	"github.com/starford/embedmark/internal/checksum"
)

const layoutSource = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{if .Title}}{{.Title}} | {{end}}{{.SiteTitle}}</title>
{{- if .Description}}
<meta name="description" content="{{.Description}}">
<meta property="og:description" content="{{.Description}}">
{{- end}}
<meta property="og:title" content="{{if .Title}}{{.Title}}{{else}}{{.SiteTitle}}{{end}}">
<meta property="og:site_name" content="{{.SiteTitle}}">
{{- if .URL}}
<link rel="canonical" href="{{.URL}}">
{{- end}}
</head>
<body>
<header><a href="/">{{.SiteTitle}}</a></header>
<main>
<article>
{{- if .Title}}
<h1>{{.Title}}</h1>
{{- end}}
{{- if .TOC}}
<nav id="toc"><ol>{{template "toc" .TOC}}</ol></nav>
{{- end}}
{{.Content}}
</article>
{{- if .Tags}}
<ul class="tags">{{range .Tags}}<li>{{.}}</li>{{end}}</ul>
{{- end}}
</main>
</body>
</html>
{{define "toc"}}{{range .}}<li><a href="#{{.ID}}">{{.Text}}</a>{{if .Children}}<ol>{{template "toc" .Children}}</ol>{{end}}</li>{{end}}{{end}}`

var layout = template.Must(template.New("page").Parse(layoutSource))

// LayoutFingerprint changes whenever the page layout changes.
var LayoutFingerprint = checksum.Sum([]byte(layoutSource))

// PageData is what the page layout renders.
type PageData struct {
	SiteTitle   string
	Title       string
	Description string
	URL         string
	Tags        []string
	TOC         []TOCEntry
	Content     template.HTML
}

// WritePage renders a full HTML page around already-rendered content.
func WritePage(w io.Writer, data PageData) error {
	if err := layout.Execute(w, data); err != nil {
		return fmt.Errorf("render: layout: %w", err)
	}
	return nil
}
