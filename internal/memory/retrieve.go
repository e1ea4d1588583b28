package memory

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/store"
)

// minKeywordLen より短い語はSTMのキーワード検索に使わない
const minKeywordLen = 4

// Context はクエリに対して取り出した記憶（RAGの入力）
type Context struct {
	Query     string              `json:"query"`
	ShortTerm []model.Memory      `json:"shortTerm"`
	LongTerm  []store.QueryResult `json:"longTerm"`
}

// Empty は取り出した記憶がないかを返す
func (c *Context) Empty() bool {
	return len(c.ShortTerm) == 0 && len(c.LongTerm) == 0
}

// Render はプロンプトに埋め込むテキスト形式を返す
//
//	LTM: <text>
//	STM: <content>
func (c *Context) Render() string {
	var b strings.Builder
	for _, r := range c.LongTerm {
		b.WriteString("LTM: ")
		b.WriteString(r.Document.Text)
		b.WriteByte('\n')
	}
	for _, m := range c.ShortTerm {
		b.WriteString("STM: ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Bundle はターミナルエージェントに渡すJSON形式の文脈を返す
func (c *Context) Bundle() string {
	curated := []string{}
	for _, line := range strings.Split(c.Render(), "\n") {
		if line != "" {
			curated = append(curated, line)
		}
	}
	out, _ := json.MarshalIndent(map[string]any{
		"request":         c.Query,
		"curated_context": curated,
	}, "", "  ")
	return string(out)
}

// Retrieve はクエリに関係するSTMとLTMの記憶を集める
// LTMが未設定・失敗した場合はSTMだけで続行する
func (s *Service) Retrieve(ctx context.Context, query string) (*Context, error) {
	rc := &Context{
		Query:     query,
		ShortTerm: []model.Memory{},
		LongTerm:  []store.QueryResult{},
	}

	seen := map[int64]bool{}
	for _, kw := range keywords(query) {
		hits, err := s.stm.SearchByText(ctx, kw)
		if err != nil {
			return nil, err
		}
		for _, m := range hits {
			if seen[m.ID] || len(rc.ShortTerm) >= s.topK {
				continue
			}
			seen[m.ID] = true
			rc.ShortTerm = append(rc.ShortTerm, m)
		}
	}

	if s.ltm != nil {
		results, err := s.ltm.Search(ctx, query, s.topK)
		if err != nil {
			s.logger.Warn("LTM retrieval failed", "error", err)
		} else {
			rc.LongTerm = results
		}
	}

	s.logger.Debug("retrieved memory context", "stm", len(rc.ShortTerm), "ltm", len(rc.LongTerm))
	return rc, nil
}

// keywords はクエリから検索語を重複なく取り出す
func keywords(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := map[string]bool{}
	var out []string
	for _, w := range words {
		if len([]rune(w)) < minKeywordLen || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

var stopWords = map[string]bool{
	"what": true, "when": true, "where": true, "which": true, "with": true,
	"that": true, "this": true, "have": true, "from": true, "your": true,
	"about": true, "does": true, "there": true, "their": true, "would": true,
	"could": true, "should": true, "please": true,
}
