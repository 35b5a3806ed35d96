// Package wikilink splits raw text on Obsidian-style bracket notation:
// ![[media]] embeds become markup, [[Page]] references become internal links.
package wikilink

import (
	"regexp"
	"strings"
)

// FragmentKind tags the variant held by a Fragment.
type FragmentKind int

const (
	// FragmentText is a literal span of the source string.
	FragmentText FragmentKind = iota
	// FragmentMarkup is generated HTML for a media embed.
	FragmentMarkup
	// FragmentInternal is a cross-reference to another page.
	FragmentInternal
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentMarkup:
		return "markup"
	case FragmentInternal:
		return "internal"
	default:
		return "text"
	}
}

// Fragment is one piece of a split text run. Start and End are byte offsets
// into the string passed to Split, and Source is exactly that span, so the
// Sources of a split concatenate back to the input.
type Fragment struct {
	Kind    FragmentKind
	Source  string
	HTML    string
	Path    string
	Display string
	Start   int
	End     int
}

// Match is a single bracket reference found in a text run.
type Match struct {
	RawPath     string
	DisplayText string
	IsMedia     bool
}

const (
	mediaMarker = "![["
	openMarker  = "[["
)

var (
	mediaRe    = regexp.MustCompile(`!\[\[(.*?)(?:\|(.*?))?\]\]`)
	internalRe = regexp.MustCompile(`\[\[(.*?)(?:\|(.*?))?\]\]`)
)

// Splitter splits text runs and renders media embeds against a remote
// content host.
type Splitter struct {
	contentBase string
	assetPrefix string
}

// New returns a Splitter resolving bare media file names to
// contentBase + "/" + assetPrefix + name.
func New(contentBase, assetPrefix string) *Splitter {
	assetPrefix = strings.Trim(assetPrefix, "/")
	if assetPrefix == "" {
		assetPrefix = "assets"
	}
	return &Splitter{
		contentBase: strings.TrimRight(contentBase, "/"),
		assetPrefix: assetPrefix + "/",
	}
}

// HasMarkers reports whether text contains anything Split could act on.
func HasMarkers(text string) bool {
	return strings.Contains(text, openMarker)
}

// Split runs the media pass over text, then the internal-reference pass over
// every plain-text piece the media pass left behind. A piece that still
// contains a media marker is not given to the internal pass.
func (s *Splitter) Split(text string) []Fragment {
	if !strings.Contains(text, mediaMarker) {
		return s.splitInternal(text, 0)
	}

	var out []Fragment
	last := 0
	for _, m := range mediaRe.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > last {
			out = append(out, s.splitInternal(text[last:m[0]], last)...)
		}
		match := matchFrom(text, m, true)
		frag := Fragment{
			Kind:    FragmentMarkup,
			Source:  text[m[0]:m[1]],
			Path:    match.RawPath,
			Display: match.DisplayText,
			Start:   m[0],
			End:     m[1],
		}
		markup, err := s.MediaHTML(match.RawPath, match.DisplayText)
		if err != nil {
			frag.Kind = FragmentText
		} else {
			frag.HTML = markup
		}
		out = append(out, frag)
		last = m[1]
	}
	if last < len(text) {
		out = append(out, s.splitInternal(text[last:], last)...)
	}
	return out
}

// splitInternal emits internal-reference fragments for text, whose first byte
// sits at offset in the string given to Split.
func (s *Splitter) splitInternal(text string, offset int) []Fragment {
	if text == "" {
		return nil
	}
	if !strings.Contains(text, openMarker) || strings.Contains(text, mediaMarker) {
		return []Fragment{textFragment(text, offset, 0, len(text))}
	}

	var out []Fragment
	last := 0
	pos := 0
	for pos < len(text) {
		loc := internalRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += pos
			}
		}
		// A reference directly after '!' is a media marker, never internal.
		if loc[0] > 0 && text[loc[0]-1] == '!' {
			pos = loc[0] + 1
			continue
		}
		if loc[0] > last {
			out = append(out, textFragment(text, offset, last, loc[0]))
		}
		match := matchFrom(text, loc, false)
		out = append(out, Fragment{
			Kind:    FragmentInternal,
			Source:  text[loc[0]:loc[1]],
			Path:    match.RawPath,
			Display: match.DisplayText,
			Start:   offset + loc[0],
			End:     offset + loc[1],
		})
		last = loc[1]
		pos = loc[1]
	}
	if last < len(text) {
		out = append(out, textFragment(text, offset, last, len(text)))
	}
	return out
}

func textFragment(text string, offset, start, end int) Fragment {
	return Fragment{
		Kind:   FragmentText,
		Source: text[start:end],
		Start:  offset + start,
		End:    offset + end,
	}
}

func matchFrom(text string, loc []int, media bool) Match {
	path := text[loc[2]:loc[3]]
	display := ""
	if loc[4] >= 0 {
		display = text[loc[4]:loc[5]]
	}
	if display == "" {
		display = path
	}
	return Match{RawPath: path, DisplayText: display, IsMedia: media}
}

// Targets returns the deduplicated internal reference paths in text, in
// order of first appearance, without any #section. Media embeds and
// same-page section links are not included.
func Targets(text string) []string {
	var s Splitter
	seen := make(map[string]struct{})
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if !HasMarkers(line) {
			continue
		}
		for _, f := range s.Split(line) {
			if f.Kind != FragmentInternal {
				continue
			}
			target, _, _ := strings.Cut(f.Path, "#")
			target = strings.TrimSpace(target)
			if target == "" {
				continue
			}
			if _, ok := seen[target]; ok {
				continue
			}
			seen[target] = struct{}{}
			out = append(out, target)
		}
	}
	return out
}
