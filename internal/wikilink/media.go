package wikilink

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"
)

var (
	mediaExtRe = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp|avif|svg|mp4|webm|mov)$`)
	videoExtRe = regexp.MustCompile(`(?i)\.(mp4|webm|mov)$`)
)

var mediaTemplates = template.Must(template.New("media").Parse(
	`{{define "video"}}<video src="{{.Src}}" controls width="100%" alt="{{.Alt}}"></video>{{end}}` +
		`{{define "image"}}<img src="{{.Src}}" alt="{{.Alt}}" loading="lazy" />{{end}}`,
))

type mediaData struct {
	Src string
	Alt string
}

// ResolveMediaPath maps an embed path to the URL it is served from.
//
//	assets/clip.mp4        -> <base>/assets/clip.mp4
//	photo.png              -> <base>/assets/photo.png
//	https://x.test/a.png   -> unchanged
//	notes/readme           -> unchanged
func (s *Splitter) ResolveMediaPath(path string) string {
	switch {
	case strings.HasPrefix(path, s.assetPrefix):
		return s.contentBase + "/" + path
	case mediaExtRe.MatchString(path) && !strings.Contains(path, "/"):
		return s.contentBase + "/" + s.assetPrefix + path
	default:
		return path
	}
}

// IsVideo reports whether path names a video file by extension.
func IsVideo(path string) bool {
	return videoExtRe.MatchString(path)
}

// MediaHTML renders the element for an embed. Video extensions get a
// <video> element; every other path, recognized or not, is rendered as an
// image.
func (s *Splitter) MediaHTML(path, display string) (string, error) {
	name := "image"
	if IsVideo(path) {
		name = "video"
	}
	var buf bytes.Buffer
	data := mediaData{Src: s.ResolveMediaPath(path), Alt: display}
	if err := mediaTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
