package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brbranch/parmira/internal/llm"
	"github.com/brbranch/parmira/internal/logging"
	"github.com/brbranch/parmira/internal/prompts"
	"github.com/brbranch/parmira/internal/router"
)

// 記憶の判断
const (
	DecisionStoreSTM = "store_stm"
	DecisionStoreLTM = "store_ltm"
	DecisionSearch   = "search"
	DecisionNone     = "none"
)

// ErrInvalidDecision はモデルの判断を解釈できなかった
var ErrInvalidDecision = errors.New("invalid memory decision")

// Decision はメモリエージェントの判断
type Decision struct {
	Action  string `json:"action"`
	Content string `json:"content"`
}

// MemoryOutcome は判断と実行結果
type MemoryOutcome struct {
	Decision Decision
	Tool     string
	Result   string
	IsError  bool
}

// MemoryAgent は入力から記憶すべきことを判断し、記憶ツールで保存・検索する
type MemoryAgent struct {
	llm    Chatter
	router ToolRouter
	prompt prompts.Prompt
	logger *slog.Logger
}

// NewMemoryAgent はMemoryAgentを作成する
func NewMemoryAgent(chat Chatter, r ToolRouter, prompt prompts.Prompt, logger *slog.Logger) *MemoryAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryAgent{llm: chat, router: r, prompt: prompt, logger: logger}
}

// Run は入力を判断し、必要なら記憶ツールを呼ぶ
func (a *MemoryAgent) Run(ctx context.Context, input string) (*MemoryOutcome, error) {
	a.logger.Info("memory agent received input", "input", logging.Preview(input, 50))

	system, user := a.prompt.Messages(map[string]string{prompts.VarUserInput: input})
	out, err := a.llm.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}, llm.Options{})
	if err != nil {
		return nil, err
	}

	decision, err := parseDecision(out)
	if err != nil {
		return nil, err
	}
	outcome := &MemoryOutcome{Decision: decision}

	switch decision.Action {
	case DecisionNone:
	case DecisionStoreSTM:
		a.call(ctx, outcome, "store_memory", map[string]any{"content": decision.Content})
	case DecisionStoreLTM:
		a.call(ctx, outcome, "store_ltm_memory", map[string]any{
			"content":  decision.Content,
			"metadata": map[string]any{"source": "memory_agent"},
		})
	case DecisionSearch:
		a.call(ctx, outcome, "search_ltm_memory", map[string]any{"query": decision.Content})
		if outcome.IsError {
			// LTMが使えなければSTMのキーワード検索にする
			a.call(ctx, outcome, "search_memory", map[string]any{"keyword": decision.Content})
		}
	}

	a.logger.Info("memory agent output",
		"action", decision.Action,
		"tool", outcome.Tool,
		"result", logging.Preview(outcome.Result, 100))
	return outcome, nil
}

func (a *MemoryAgent) call(ctx context.Context, outcome *MemoryOutcome, tool string, args map[string]any) {
	outcome.Tool = tool
	result, _, err := a.router.Route(ctx, router.ToolCall{
		Tool:     router.CategoryMemory,
		Endpoint: "/" + tool,
		Payload:  args,
	})
	if err != nil {
		outcome.Result = errorObservation(err.Error())
		outcome.IsError = true
		return
	}
	outcome.Result = result.Text()
	outcome.IsError = result.IsError
}

// parseDecision はモデル出力からDecisionを取り出す
func parseDecision(out string) (Decision, error) {
	data, ok := extractObject(out)
	if !ok {
		return Decision{}, fmt.Errorf("%w: no JSON object in %q", ErrInvalidDecision, logging.Preview(out, 80))
	}
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	d.Content = strings.TrimSpace(d.Content)

	switch d.Action {
	case DecisionNone:
		return d, nil
	case DecisionStoreSTM, DecisionStoreLTM, DecisionSearch:
		if d.Content == "" {
			return Decision{}, fmt.Errorf("%w: %s without content", ErrInvalidDecision, d.Action)
		}
		return d, nil
	}
	return Decision{}, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
}
