// Package action parses the agent's markdown reply into a tool call or a
// final answer.
package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/brbranch/parmira/internal/router"
)

// 見出し名
const (
	SectionReasoning     = "REASONING"
	SectionPrimaryAction = "PRIMARY ACTION"
	SectionFinalAnswer   = "FINAL ANSWER"
)

// ErrInvalidAction はPRIMARY ACTIONを解釈できなかった
var ErrInvalidAction = errors.New("invalid primary action")

// shellLanguages はSHELL_COMMANDとして扱うコードブロックの言語
var shellLanguages = map[string]bool{
	"bash": true, "sh": true, "shell": true, "zsh": true, "console": true,
}

// pythonLanguages はPYTHON_EVALとして扱うコードブロックの言語
var pythonLanguages = map[string]bool{
	"python": true, "py": true, "python3": true, "starlark": true,
}

// Action はモデル出力の解釈結果
// Callがあればツールを実行し、なければFinalが回答になる
type Action struct {
	Reasoning string
	Call      *router.ToolCall
	Final     string
	Sections  map[string]string
}

// section は見出しと本文、本文中の最初のフェンス付きコードブロック
type section struct {
	title    string
	body     string
	code     string
	language string
	hasCode  bool
}

var markdown = goldmark.New()

// Parse はモデル出力を解釈する
// PRIMARY ACTIONもFINAL ANSWERも無ければ全文を回答とする
func Parse(output string) (*Action, error) {
	source := []byte(output)
	sections := splitSections(source)

	act := &Action{Sections: make(map[string]string, len(sections))}
	for _, s := range sections {
		act.Sections[s.title] = s.body
	}
	if s, ok := find(sections, SectionReasoning); ok {
		act.Reasoning = s.body
	}
	if s, ok := find(sections, SectionFinalAnswer); ok {
		act.Final = s.body
	}

	if s, ok := find(sections, SectionPrimaryAction); ok {
		call, err := toolCall(s)
		if err != nil {
			return act, err
		}
		act.Call = call
	}

	if act.Call == nil && act.Final == "" {
		act.Final = strings.TrimSpace(output)
	}
	return act, nil
}

func find(sections []section, title string) (section, bool) {
	for _, s := range sections {
		if s.title == title {
			return s, true
		}
	}
	return section{}, false
}

// splitSections は見出しごとに本文を切り出す
func splitSections(source []byte) []section {
	doc := markdown.Parser().Parse(text.NewReader(source))

	var sections []section
	var current *section
	bodyStart := 0

	closeSection := func(end int) {
		if current == nil {
			return
		}
		if end < bodyStart {
			end = bodyStart
		}
		current.body = strings.TrimSpace(string(source[bodyStart:end]))
		sections = append(sections, *current)
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if heading, ok := n.(*ast.Heading); ok && heading.Lines().Len() > 0 {
			seg := heading.Lines().At(0)
			closeSection(lineStart(source, seg.Start))
			current = &section{title: normalizeTitle(string(seg.Value(source)))}
			bodyStart = lineEnd(source, seg.Stop)
			continue
		}
		if current != nil && !current.hasCode {
			if block := firstFencedBlock(n); block != nil {
				current.language = strings.ToLower(string(block.Language(source)))
				current.code = blockText(block, source)
				current.hasCode = true
			}
		}
	}
	closeSection(len(source))
	return sections
}

// normalizeTitle は "Primary Action:" のような揺れを吸収する
func normalizeTitle(title string) string {
	title = strings.Trim(strings.TrimSpace(title), "*_:# ")
	return strings.ToUpper(title)
}

func lineStart(source []byte, pos int) int {
	if i := bytes.LastIndexByte(source[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

func lineEnd(source []byte, pos int) int {
	if i := bytes.IndexByte(source[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(source)
}

func firstFencedBlock(n ast.Node) *ast.FencedCodeBlock {
	var found *ast.FencedCodeBlock
	ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if block, ok := node.(*ast.FencedCodeBlock); ok {
			found = block
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

func blockText(block *ast.FencedCodeBlock, source []byte) string {
	var b strings.Builder
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// toolCall はPRIMARY ACTIONの本文からツール呼び出しを作る
func toolCall(s section) (*router.ToolCall, error) {
	if s.hasCode && shellLanguages[s.language] {
		cmd := shellCommand(s.code)
		if cmd == "" {
			return nil, fmt.Errorf("%w: empty %s block", ErrInvalidAction, s.language)
		}
		return &router.ToolCall{
			Tool:     router.CategoryShell,
			Endpoint: "/execute_shell",
			Payload:  map[string]any{"command": cmd},
		}, nil
	}

	if s.hasCode && pythonLanguages[s.language] {
		code := strings.TrimSpace(s.code)
		if code == "" {
			return nil, fmt.Errorf("%w: empty %s block", ErrInvalidAction, s.language)
		}
		return &router.ToolCall{
			Tool:     router.CategoryPython,
			Endpoint: "/execute_python",
			Payload:  map[string]any{"code": code},
		}, nil
	}

	raw := s.body
	if s.hasCode {
		raw = s.code
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.HasPrefix(raw, "{") {
		if s.hasCode {
			return nil, fmt.Errorf("%w: unsupported %q block", ErrInvalidAction, s.language)
		}
		// コードブロックのない説明文だけのPRIMARY ACTIONは無視する
		return nil, nil
	}

	var call router.ToolCall
	if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &call); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if call.Tool == "" {
		return nil, fmt.Errorf("%w: tool_call is required", ErrInvalidAction)
	}
	return &call, nil
}

// shellCommand はbashブロックから最初のコマンド行を取り出す
func shellCommand(code string) string {
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "$ ")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}
