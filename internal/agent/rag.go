package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brbranch/parmira/internal/llm"
	"github.com/brbranch/parmira/internal/memory"
	"github.com/brbranch/parmira/internal/prompts"
)

// RAGBundle はターミナルエージェントに渡す絞り込み済みの文脈
type RAGBundle struct {
	Request        string   `json:"request"`
	CuratedContext []string `json:"curated_context"`
}

// RAGAgent は取得した記憶から依頼に関係するものだけを残す
type RAGAgent struct {
	llm    Chatter
	prompt prompts.Prompt
	logger *slog.Logger
}

// NewRAGAgent はRAGAgentを作成する
func NewRAGAgent(chat Chatter, prompt prompts.Prompt, logger *slog.Logger) *RAGAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGAgent{llm: chat, prompt: prompt, logger: logger}
}

// Curate は記憶の文脈をLLMで絞り込み、JSONのバンドルを返す
// 記憶が空ならLLMを呼ばずにそのまま返す
func (a *RAGAgent) Curate(ctx context.Context, mc *memory.Context) (string, error) {
	if mc.Empty() {
		return mc.Bundle(), nil
	}

	input := fmt.Sprintf("Retrieval request: %q\n\n--- RETRIEVED ---\n%s", mc.Query, mc.Render())
	system, user := a.prompt.Messages(map[string]string{prompts.VarUserInput: input})
	out, err := a.llm.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}, llm.Options{})
	if err != nil {
		return "", err
	}

	data, ok := extractObject(out)
	if !ok {
		return "", errors.New("rag agent returned no JSON object")
	}
	var bundle RAGBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return "", fmt.Errorf("rag agent bundle: %w", err)
	}
	if bundle.Request == "" {
		bundle.Request = mc.Query
	}
	if bundle.CuratedContext == nil {
		bundle.CuratedContext = []string{}
	}

	a.logger.Info("curated context", "retrieved", len(mc.ShortTerm)+len(mc.LongTerm), "kept", len(bundle.CuratedContext))
	b, _ := json.MarshalIndent(bundle, "", "  ")
	return string(b), nil
}
