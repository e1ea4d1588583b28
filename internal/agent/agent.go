// Package agent implements the terminal, memory and retrieval agents.
package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/brbranch/parmira/internal/llm"
	"github.com/brbranch/parmira/internal/memory"
	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/router"
)

// Chatter はLLMの呼び出し
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error)
}

// ToolRouter はツール呼び出しの振り分け
type ToolRouter interface {
	Route(ctx context.Context, call router.ToolCall) (*model.ToolsCallResult, router.Target, error)
	Describe(ctx context.Context) string
}

// Retriever はクエリに関係する記憶を集める
type Retriever interface {
	Retrieve(ctx context.Context, query string) (*memory.Context, error)
}

// extractObject はモデル出力から最初の '{' から最後の '}' までを取り出し、
// コメントや末尾カンマを取り除いたJSONにする
func extractObject(output string) ([]byte, bool) {
	start := strings.IndexByte(output, '{')
	end := strings.LastIndexByte(output, '}')
	if start < 0 || end < start {
		return nil, false
	}
	data := jsonc.ToJSON([]byte(output[start : end+1]))
	if !json.Valid(data) {
		return nil, false
	}
	return data, true
}

// errorObservation は失敗をモデルに返すJSON
func errorObservation(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
