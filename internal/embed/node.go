package embed

import (
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// KindEmbed is the NodeKind of Node.
var KindEmbed = ast.NewNodeKind("Embed")

// Node is an inline raw-markup node that replaces a link or a media embed.
// Its markup is written verbatim when rendered, regardless of the
// renderer's unsafe setting.
type Node struct {
	ast.BaseInline
	Class Kind
	URL   string
	HTML  string
}

// NewNode returns an embed node for url with no markup yet.
func NewNode(class Kind, url string) *Node {
	return &Node{Class: class, URL: url}
}

// Kind implements ast.Node.
func (n *Node) Kind() ast.NodeKind {
	return KindEmbed
}

// Dump implements ast.Node.
func (n *Node) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Class": string(n.Class),
		"URL":   n.URL,
		"HTML":  fmt.Sprintf("%q", n.HTML),
	}, nil)
}

type nodeRenderer struct{}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *nodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindEmbed, r.renderEmbed)
}

func (r *nodeRenderer) renderEmbed(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*Node)
	if _, err := w.WriteString(n.HTML); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}

type embedExtender struct{}

// Extension registers the renderer for embed nodes.
var Extension goldmark.Extender = &embedExtender{}

func (e *embedExtender) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&nodeRenderer{}, 500),
	))
}
