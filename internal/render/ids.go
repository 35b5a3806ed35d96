package render

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
)

var (
	idStripRe = regexp.MustCompile(`[^\w\x{3040}-\x{309F}\x{30A0}-\x{30FF}\x{4E00}-\x{9FAF}\s\p{Zs}-]`)
	idSpaceRe = regexp.MustCompile(`[\s\p{Zs}]+`)
	idDashRe  = regexp.MustCompile(`-+`)
)

// HeadingID turns heading text into an anchor id. Kana and kanji survive;
// other non-word characters are dropped.
func HeadingID(text string) string {
	id := strings.ToLower(text)
	id = idStripRe.ReplaceAllString(id, "")
	id = idSpaceRe.ReplaceAllString(id, "-")
	id = idDashRe.ReplaceAllString(id, "-")
	return strings.Trim(id, "-")
}

// headingIDs assigns unique ids within one document.
type headingIDs struct {
	used map[string]struct{}
}

var _ parser.IDs = (*headingIDs)(nil)

func newHeadingIDs() *headingIDs {
	return &headingIDs{used: make(map[string]struct{})}
}

func (s *headingIDs) Generate(value []byte, kind ast.NodeKind) []byte {
	base := HeadingID(string(value))
	if base == "" {
		base = "id"
		if kind == ast.KindHeading {
			base = "heading"
		}
	}
	id := base
	for i := 1; ; i++ {
		if _, taken := s.used[id]; !taken {
			break
		}
		id = base + "-" + strconv.Itoa(i)
	}
	s.used[id] = struct{}{}
	return []byte(id)
}

func (s *headingIDs) Put(value []byte) {
	s.used[string(value)] = struct{}{}
}
