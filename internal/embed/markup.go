package embed

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// LinkRef is a link as written in the document.
type LinkRef struct {
	URL  string
	Text string
}

const (
	defaultVideoTitle = "YouTube video"
	defaultAudioTitle = "Spotify player"
)

var markupTemplates = template.Must(template.New("embed").Parse(`
{{- define "youtube" -}}
<div class="youtube-embed"><iframe width="560" height="315" src="https://www.youtube.com/embed/{{.ID}}" title="{{.Title}}" frameborder="0" allow="accelerometer; autoplay; clipboard-write; encrypted-media; gyroscope; picture-in-picture" allowfullscreen></iframe></div>
{{- end -}}

{{- define "spotify" -}}
<div class="spotify-embed"><iframe style="border-radius:12px" src="https://open.spotify.com/embed/track/{{.ID}}?utm_source=generator&theme=0" title="{{.Title}}" frameborder="0" allowfullscreen="" allow="autoplay; clipboard-write; encrypted-media; fullscreen; picture-in-picture" loading="lazy"></iframe></div>
{{- end -}}

{{- define "grid" -}}
<div class="link-card {{.SiteClass}} link-card-grid{{if .Image}} link-card-with-image{{end}}"><a href="{{.URL}}"{{if not .Internal}} target="_blank"{{end}}><div class="link-card-grid-container"><div class="link-card-image-container">
{{- if .Image -}}
<img src="{{.Image}}" alt="{{.Title}}" loading="lazy" onload="this.naturalWidth > this.naturalHeight * 1.2 ? this.parentNode.parentNode.classList.add('wide-image') : ''" />
{{- else -}}
<div class="no-image"></div>
{{- end -}}
</div><div class="link-card-content"><h4>{{.Title}}</h4><span class="link-card-site">{{.Site}}</span></div></div></a></div>
{{- end -}}

{{- define "fallback" -}}
<a href="{{.URL}}">{{.Text}}</a>
{{- end -}}

{{- define "standard" -}}
<div class="link-card {{.SiteClass}}"><a href="{{.URL}}"{{if not .Internal}} target="_blank"{{end}}>
{{- if .Image -}}
<div class="link-card-image"><img src="{{.Image}}" alt="{{.Title}}" loading="lazy" /></div>
{{- end -}}
<div class="link-card-content"><h4>{{.Title}}</h4><span class="link-card-site">{{.Site}}</span></div></a></div>
{{- end -}}
`))

type playerData struct {
	ID    string
	Title string
}

type cardData struct {
	URL       string
	Title     string
	Site      string
	Image     string
	SiteClass string
	Internal  bool
}

// Generate renders the markup for a classified link. Skip links produce no
// markup.
func Generate(c Classification, ref LinkRef, meta Metadata) (string, error) {
	switch c.Kind {
	case KindSkip, "":
		return "", nil
	case KindYouTube:
		id := ""
		if len(c.Captures) > 0 {
			id = c.Captures[0]
		} else if m := youTubeRe.FindStringSubmatch(ref.URL); m != nil {
			id = m[1]
		}
		return YouTubeHTML(id, ref.Text)
	case KindSpotify:
		return SpotifyHTML(ref.URL, ref.Text)
	default:
		return CardHTML(c.Kind, ref, meta)
	}
}

// YouTubeHTML renders the inline video player for a video id.
func YouTubeHTML(id, text string) (string, error) {
	if text == "" {
		text = defaultVideoTitle
	}
	return execute("youtube", playerData{ID: id, Title: text})
}

// SpotifyHTML renders the inline audio player keyed by the final path
// segment of rawURL.
func SpotifyHTML(rawURL, text string) (string, error) {
	if text == "" {
		text = defaultAudioTitle
	}
	return execute("spotify", playerData{ID: spotifySegment(rawURL), Title: text})
}

func spotifySegment(rawURL string) string {
	seg := rawURL[strings.LastIndex(rawURL, "/")+1:]
	if i := strings.IndexAny(seg, "?#"); i >= 0 {
		seg = seg[:i]
	}
	return seg
}

// UsesGrid reports whether a card of kind k with metadata m uses the grid
// layout.
func UsesGrid(k Kind, m Metadata) bool {
	switch k {
	case KindZenn, KindQiita, KindNiconico:
		return true
	}
	return m.Image != ""
}

// CardHTML renders a link card in the grid or standard layout.
func CardHTML(k Kind, ref LinkRef, meta Metadata) (string, error) {
	title := meta.Title
	if title == "" {
		title = ref.Text
	}
	if title == "" {
		title = ref.URL
	}
	siteClass := string(k)
	if k == KindExternal {
		siteClass = "external"
	}
	data := cardData{
		URL:       ref.URL,
		Title:     title,
		Site:      meta.SiteName,
		Image:     meta.Image,
		SiteClass: siteClass,
		Internal:  k == KindInternal,
	}
	if UsesGrid(k, meta) {
		return execute("grid", data)
	}
	return execute("standard", data)
}

// FallbackHTML renders ref as a plain anchor.
func FallbackHTML(ref LinkRef) string {
	if ref.Text == "" {
		ref.Text = ref.URL
	}
	out, err := execute("fallback", ref)
	if err != nil {
		return ""
	}
	return out
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := markupTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("embed: render %s: %w", name, err)
	}
	return buf.String(), nil
}
