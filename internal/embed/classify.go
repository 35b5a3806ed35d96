// Package embed turns links in a goldmark document into preview cards and
// inline players, and splices wiki-link fragments into text runs.
package embed

import (
	"regexp"
	"strings"
)

// Kind is the semantic type of a link.
type Kind string

const (
	KindYouTube    Kind = "youtube"
	KindSpotify    Kind = "spotify"
	KindZenn       Kind = "zenn"
	KindQiita      Kind = "qiita"
	KindGitHub     Kind = "github"
	KindNote       Kind = "note"
	KindSoundCloud Kind = "soundcloud"
	KindNiconico   Kind = "niconico"
	KindInternal   Kind = "internal"
	KindExternal   Kind = "external"
	KindSkip       Kind = "skip"

	// KindMedia marks embed nodes produced from ![[...]] markers. The
	// classifier never returns it.
	KindMedia Kind = "media"
)

// Classification is the result of classifying one URL. Captures holds the
// regexp groups of the rule that matched, if it had any.
type Classification struct {
	Kind     Kind
	Captures []string
}

// IsCard reports whether the kind renders as a link card.
func (k Kind) IsCard() bool {
	switch k {
	case KindYouTube, KindSpotify, KindSkip, KindMedia, "":
		return false
	}
	return true
}

// NeedsMetadata reports whether rendering the kind requires a fetch.
func (k Kind) NeedsMetadata() bool {
	return k.IsCard()
}

var youTubeRe = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([a-zA-Z0-9_-]+)`)

type domainRule struct {
	kind    Kind
	needles []string
}

var platformRules = []domainRule{
	{KindSpotify, []string{"spotify.com"}},
	{KindZenn, []string{"zenn.dev"}},
	{KindQiita, []string{"qiita.com"}},
	{KindGitHub, []string{"github.com"}},
	{KindNote, []string{"note.com"}},
	{KindSoundCloud, []string{"soundcloud.com"}},
	{KindNiconico, []string{"nicovideo.jp", "nico.ms"}},
}

// Classifier maps URLs to kinds. The zero value knows every platform but
// has no internal site.
type Classifier struct {
	rules []domainRule
}

// NewClassifier returns a Classifier that treats URLs containing
// internalDomain as internal. An empty internalDomain disables the rule.
func NewClassifier(internalDomain string) *Classifier {
	rules := make([]domainRule, 0, len(platformRules)+1)
	rules = append(rules, platformRules...)
	if internalDomain != "" {
		rules = append(rules, domainRule{KindInternal, []string{internalDomain}})
	}
	return &Classifier{rules: rules}
}

// Classify never fails: anything that is not an absolute web URL is
// KindSkip, anything unrecognized is KindExternal. Domain rules match on
// substrings anywhere in the URL, not on the host.
func (c *Classifier) Classify(url string) Classification {
	if m := youTubeRe.FindStringSubmatch(url); m != nil {
		return Classification{Kind: KindYouTube, Captures: m[1:]}
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return Classification{Kind: KindSkip}
	}

	rules := platformRules
	if c != nil && c.rules != nil {
		rules = c.rules
	}
	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(url, needle) {
				return Classification{Kind: r.kind}
			}
		}
	}

	return Classification{Kind: KindExternal}
}

// Classify classifies url with the platform rules and no internal site.
func Classify(url string) Classification {
	var c Classifier
	return c.Classify(url)
}
