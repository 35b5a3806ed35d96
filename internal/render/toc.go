package render

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// TOCEntry represents a heading in the table of contents.
type TOCEntry struct {
	ID       string     `json:"id"`
	Text     string     `json:"text"`
	Level    int        `json:"level"`
	Children []TOCEntry `json:"children,omitempty"`
}

// buildTOC collects the h1-h6 headings of rendered HTML. Each heading nests
// under the closest preceding heading of a higher rank; a heading with none
// stays at the top level.
func buildTOC(rendered []byte) ([]TOCEntry, error) {
	root, err := html.Parse(bytes.NewReader(rendered))
	if err != nil {
		return nil, err
	}
	doc := goquery.NewDocumentFromNode(root)

	var toc []TOCEntry
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		toc = insertTOC(toc, TOCEntry{
			ID:    s.AttrOr("id", ""),
			Text:  strings.TrimSpace(s.Text()),
			Level: int(name[1] - '0'),
		})
	})
	return toc, nil
}

func insertTOC(list []TOCEntry, e TOCEntry) []TOCEntry {
	if n := len(list); n > 0 && list[n-1].Level < e.Level {
		list[n-1].Children = insertTOC(list[n-1].Children, e)
		return list
	}
	return append(list, e)
}
