package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brbranch/parmira/internal/action"
	"github.com/brbranch/parmira/internal/llm"
	"github.com/brbranch/parmira/internal/logging"
	"github.com/brbranch/parmira/internal/memory"
	"github.com/brbranch/parmira/internal/prompts"
	"github.com/brbranch/parmira/internal/router"
)

const (
	// DefaultMaxSteps はツール呼び出しの上限
	DefaultMaxSteps = 5
	// maxObservationLen はプロンプトに戻すツール結果の最大文字数
	maxObservationLen = 4000
)

// ErrStepLimit はFINAL ANSWERに達する前に上限に達した
var ErrStepLimit = errors.New("step limit reached without a final answer")

// Step は1回のモデル呼び出しとその結果
type Step struct {
	N           int
	Output      string
	Call        *router.ToolCall
	Target      router.Target
	Observation string
	IsError     bool
}

// Answer はエージェントの最終結果
type Answer struct {
	Text  string
	Steps []Step
}

// TerminalAgent はツールを使ってユーザーの依頼を解決する
type TerminalAgent struct {
	llm      Chatter
	router   ToolRouter
	prompt   prompts.Prompt
	memory   Retriever
	curator  *RAGAgent
	maxSteps int
	logger   *slog.Logger
}

// TerminalOption はTerminalAgentのオプション
type TerminalOption func(*TerminalAgent)

// WithMemory はRAGの記憶取得元を設定
func WithMemory(r Retriever) TerminalOption {
	return func(a *TerminalAgent) {
		a.memory = r
	}
}

// WithCurator は取得した記憶をLLMで絞り込むRAGエージェントを設定
func WithCurator(c *RAGAgent) TerminalOption {
	return func(a *TerminalAgent) {
		a.curator = c
	}
}

// WithMaxSteps はステップ上限を設定
func WithMaxSteps(n int) TerminalOption {
	return func(a *TerminalAgent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithLogger はロガーを設定
func WithLogger(logger *slog.Logger) TerminalOption {
	return func(a *TerminalAgent) {
		a.logger = logger
	}
}

// NewTerminalAgent はTerminalAgentを作成する
func NewTerminalAgent(chat Chatter, r ToolRouter, prompt prompts.Prompt, opts ...TerminalOption) *TerminalAgent {
	a := &TerminalAgent{
		llm:      chat,
		router:   r,
		prompt:   prompt,
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run は依頼を受けてツール呼び出しを繰り返し、回答を返す
// 上限に達した場合は途中経過のAnswerとErrStepLimitを返す
func (a *TerminalAgent) Run(ctx context.Context, query string) (*Answer, error) {
	a.logger.Info("terminal agent received query", "query", logging.Preview(query, 50))

	system, user := a.prompt.Messages(map[string]string{
		prompts.VarTools:     a.router.Describe(ctx),
		prompts.VarRAGOutput: a.ragOutput(ctx, query),
		prompts.VarUserInput: query,
	})
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}

	answer := &Answer{}
	for n := 1; n <= a.maxSteps; n++ {
		out, err := a.llm.Chat(ctx, messages, llm.Options{})
		if err != nil {
			return answer, fmt.Errorf("step %d: %w", n, err)
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: out})
		step := Step{N: n, Output: out}

		act, err := action.Parse(out)
		switch {
		case err != nil:
			step.Observation = errorObservation(err.Error())
			step.IsError = true
		case act.Call == nil:
			answer.Steps = append(answer.Steps, step)
			answer.Text = act.Final
			a.logger.Info("terminal agent answered", "steps", n)
			return answer, nil
		default:
			step.Call = act.Call
			step.Observation, step.Target, step.IsError = a.execute(ctx, *act.Call)
		}

		a.logger.Info("agent step",
			"step", n,
			"tool", step.Target.Tool,
			"server", step.Target.Server,
			"error", step.IsError,
			"observation", logging.Preview(step.Observation, 100))
		answer.Steps = append(answer.Steps, step)
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observationPrompt(step)})
	}

	a.logger.Warn("terminal agent hit step limit", "maxSteps", a.maxSteps)
	answer.Text = fmt.Sprintf("Stopped after %d steps without a final answer.", a.maxSteps)
	return answer, ErrStepLimit
}

// ragOutput はプロンプトに埋め込む記憶の文脈を作る
// 取得や絞り込みに失敗しても空の文脈で続行する
func (a *TerminalAgent) ragOutput(ctx context.Context, query string) string {
	empty := &memory.Context{Query: query}
	if a.memory == nil {
		return empty.Bundle()
	}

	mc, err := a.memory.Retrieve(ctx, query)
	if err != nil {
		a.logger.Warn("memory retrieval failed", "error", err)
		return empty.Bundle()
	}
	if a.curator == nil || mc.Empty() {
		return mc.Bundle()
	}

	curated, err := a.curator.Curate(ctx, mc)
	if err != nil {
		a.logger.Warn("curation failed, using raw context", "error", err)
		return mc.Bundle()
	}
	return curated
}

// execute はツールを実行し、モデルに返す文字列を作る
func (a *TerminalAgent) execute(ctx context.Context, call router.ToolCall) (string, router.Target, bool) {
	result, target, err := a.router.Route(ctx, call)
	if err != nil {
		return errorObservation(err.Error()), target, true
	}
	return logging.Preview(result.Text(), maxObservationLen), target, result.IsError
}

func observationPrompt(step Step) string {
	label := "error"
	if step.Target.Tool != "" {
		label = step.Target.Category + " " + step.Target.Tool
	}
	return fmt.Sprintf("### OBSERVATION (step %d, %s)\n%s\n\nContinue with the next PRIMARY ACTION, or give the FINAL ANSWER.",
		step.N, label, step.Observation)
}
