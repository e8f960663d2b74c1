package render

import (
	"bytes"
	"io"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// DefaultStyle is the chroma style used for CSS when none is given.
const DefaultStyle = "github"

// codeBlockRenderer renders fenced code blocks through chroma. Tokens are
// emitted as CSS classes so the host controls colours with CSS().
type codeBlockRenderer struct {
	formatter *chromahtml.Formatter
}

func newCodeBlockRenderer() *codeBlockRenderer {
	return &codeBlockRenderer{
		formatter: chromahtml.New(chromahtml.WithClasses(true)),
	}
}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
}

func (r *codeBlockRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)

	var code bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(source))
	}

	lexer := lexers.Get(string(n.Language(source)))
	if lexer == nil {
		lexer = lexers.Fallback
	}
	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, code.String())
	if err != nil {
		writePlainCode(w, code.Bytes())
		return ast.WalkSkipChildren, nil
	}
	if err := r.formatter.Format(w, styles.Get(DefaultStyle), iterator); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}

func writePlainCode(w util.BufWriter, code []byte) {
	_, _ = w.WriteString("<pre><code>")
	_, _ = w.Write(util.EscapeHTML(code))
	_, _ = w.WriteString("</code></pre>\n")
}

// CSS writes the stylesheet for highlighted code blocks in the named chroma
// style. Unknown names fall back to chroma's default style.
func (r *Renderer) CSS(w io.Writer, style string) error {
	if style == "" {
		style = DefaultStyle
	}
	return r.highlighter.formatter.WriteCSS(w, styles.Get(style))
}
