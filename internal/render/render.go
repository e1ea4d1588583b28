// Package render formats agent output for the terminal.
//
// When the destination is a TTY, markdown headings are styled with lipgloss
// and fenced code blocks are highlighted with chroma. Otherwise text passes
// through unchanged.
package render

import (
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/term"
)

const (
	chromaFormatter = "terminal256"
	chromaStyle     = "monokai"
	ruleWidth       = 40
)

// 色
var (
	accentColor = lipgloss.Color("39")
	faintColor  = lipgloss.Color("245")
	errorColor  = lipgloss.Color("203")
)

// Renderer はターミナル向けの整形を行う
type Renderer struct {
	out    io.Writer
	styled bool
	lip    *lipgloss.Renderer
	md     goldmark.Markdown
}

// New はwがTTYの場合にだけ装飾するRendererを作る
func New(w io.Writer) *Renderer {
	return NewStyled(w, IsTerminal(w))
}

// NewStyled は装飾の有無を指定してRendererを作る
func NewStyled(w io.Writer, styled bool) *Renderer {
	lip := lipgloss.NewRenderer(w, termenv.WithProfile(termenv.ANSI256))
	if styled {
		lip.SetColorProfile(termenv.ANSI256)
	} else {
		lip.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		out:    w,
		styled: styled,
		lip:    lip,
		md:     goldmark.New(),
	}
}

// IsTerminal はwが端末に接続されているかを返す
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Styled は装飾が有効かを返す
func (r *Renderer) Styled() bool {
	return r.styled
}

// Prompt はREPLのプロンプト文字列を返す
func (r *Renderer) Prompt(label string) string {
	p := label + "> "
	if !r.styled {
		return p
	}
	return r.lip.NewStyle().Foreground(accentColor).Bold(true).Render(label) + "> "
}

// Answer は最終回答を書き出す
func (r *Renderer) Answer(s string) {
	io.WriteString(r.out, r.Markdown(s))
	if !strings.HasSuffix(s, "\n") {
		io.WriteString(r.out, "\n")
	}
}

// Notice は補助的な1行メッセージを書き出す
func (r *Renderer) Notice(label, msg string) {
	line := "[" + label + "] " + msg
	if r.styled {
		line = r.lip.NewStyle().Foreground(faintColor).Render(line)
	}
	io.WriteString(r.out, line+"\n")
}

// Error はエラーメッセージを書き出す
func (r *Renderer) Error(err error) {
	line := "error: " + err.Error()
	if r.styled {
		line = r.lip.NewStyle().Foreground(errorColor).Bold(true).Render(line)
	}
	io.WriteString(r.out, line+"\n")
}

// Markdown はmarkdownを整形して返す
// 見出しとコードブロック以外は元のテキストを保つ
func (r *Renderer) Markdown(s string) string {
	if !r.styled || strings.TrimSpace(s) == "" {
		return s
	}

	source := []byte(s)
	doc := r.md.Parser().Parse(text.NewReader(source))

	var blocks []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if block := r.block(node, source); block != "" {
			blocks = append(blocks, block)
		}
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

func (r *Renderer) block(node ast.Node, source []byte) string {
	switch n := node.(type) {
	case *ast.Heading:
		title := strings.Repeat("#", n.Level) + " " + strings.TrimSpace(linesText(n, source))
		return r.lip.NewStyle().Foreground(accentColor).Bold(true).Render(title)
	case *ast.FencedCodeBlock:
		return r.highlight(linesText(n, source), string(n.Language(source)))
	case *ast.CodeBlock:
		return r.highlight(linesText(n, source), "")
	case *ast.ThematicBreak:
		return r.lip.NewStyle().Foreground(faintColor).Render(strings.Repeat("─", ruleWidth))
	default:
		return rawText(node, source)
	}
}

// highlight はchromaでコードを色付けする
// 言語不明や失敗時は薄い色のプレーンテキスト
func (r *Renderer) highlight(code, language string) string {
	code = strings.TrimRight(code, "\n")
	faint := r.lip.NewStyle().Foreground(faintColor)
	if language == "" {
		return faint.Render(code)
	}
	var b strings.Builder
	if err := quick.Highlight(&b, code, language, chromaFormatter, chromaStyle); err != nil {
		return faint.Render(code)
	}
	return strings.TrimRight(b.String(), "\n")
}

func linesText(node ast.Node, source []byte) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// rawText はブロックが占める元の行をそのまま返す
func rawText(node ast.Node, source []byte) string {
	start, stop := -1, -1
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		var segs []text.Segment
		if n.Type() == ast.TypeBlock {
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				segs = append(segs, lines.At(i))
			}
		} else if t, ok := n.(*ast.Text); ok {
			segs = append(segs, t.Segment)
		}
		for _, seg := range segs {
			if start < 0 || seg.Start < start {
				start = seg.Start
			}
			if seg.Stop > stop {
				stop = seg.Stop
			}
		}
		return ast.WalkContinue, nil
	})
	if start < 0 {
		return ""
	}

	// 行頭のマーカー（"- " や "> "）を含める
	for start > 0 && source[start-1] != '\n' {
		start--
	}
	for stop < len(source) && source[stop] != '\n' {
		stop++
	}
	return strings.TrimRight(string(source[start:stop]), "\n")
}
