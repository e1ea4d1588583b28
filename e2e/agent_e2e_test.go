//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/brbranch/parmira/internal/agent"
	"github.com/brbranch/parmira/internal/llm"
	"github.com/brbranch/parmira/internal/mcpclient"
	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/prompts"
	"github.com/brbranch/parmira/internal/router"
	httptransport "github.com/brbranch/parmira/internal/transport/http"
)

// scriptedLLMServer は順番に応答を返すchat completions APIのモック
// 受け取ったメッセージはrequestsに記録する
type scriptedLLMServer struct {
	mu        sync.Mutex
	responses []string
	requests  [][]llm.Message
}

func (s *scriptedLLMServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []llm.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req.Messages)
	content := "### FINAL ANSWER\nout of script"
	if len(s.responses) > 0 {
		content = s.responses[0]
		s.responses = s.responses[1:]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
}

// TestE2E_Agent_OverHTTP はHTTPのMCPサーバーを経由してエージェントがツールを使う流れをテスト
func TestE2E_Agent_OverHTTP(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// 1. ツールサーバー（HTTP）
	reg := env.Handler.Registry()
	srv := httptransport.New(env.Handler, httptransport.Config{Tools: reg})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := mcpclient.NewHTTP(ts.URL)
	defer client.Close()
	info, err := client.Initialize(ctx)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if info.ServerInfo.Name != "parmira-all" {
		t.Errorf("expected server name 'parmira-all', got %q", info.ServerInfo.Name)
	}

	// 2. 全カテゴリを同じサーバーに割り当てる
	servers := map[string]router.Caller{}
	for _, c := range router.Categories {
		servers[c.Server] = client
	}
	r := router.New(servers, nil)

	// 3. LLM（モック）
	script := &scriptedLLMServer{responses: []string{
		"### REASONING\nCheck the greeting.\n\n### PRIMARY ACTION\n```json\n{\"tool_call\":\"SHELL_COMMAND\",\"endpoint\":\"/execute_shell\",\"payload\":{\"command\":\"echo hello-from-shell\"}}\n```",
		"### PRIMARY ACTION\n```json\n{\"tool_call\":\"MEMORY\",\"endpoint\":\"/store_memory\",\"payload\":{\"content\":\"greeting is hello-from-shell\"}}\n```",
		"### FINAL ANSWER\nThe shell said hello-from-shell.",
	}}
	llmServer := httptest.NewServer(script)
	defer llmServer.Close()
	chat := llm.New(model.LLMConfig{BaseURL: llmServer.URL}, "test-token")

	// 4. 実行
	a := agent.NewTerminalAgent(chat, r, prompts.Default().Terminal, agent.WithMemory(env.Memory))
	answer, err := a.Run(ctx, "what does the shell say?")
	if err != nil {
		t.Fatalf("agent run failed: %v", err)
	}

	if answer.Text != "The shell said hello-from-shell." {
		t.Errorf("unexpected answer: %q", answer.Text)
	}
	if len(answer.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(answer.Steps))
	}

	shell := answer.Steps[0]
	if shell.IsError {
		t.Errorf("shell step failed: %s", shell.Observation)
	}
	if shell.Target.Server != "shell" || shell.Target.Tool != "execute_shell" {
		t.Errorf("unexpected shell target: %+v", shell.Target)
	}
	if !strings.Contains(shell.Observation, "hello-from-shell") {
		t.Errorf("expected shell output in observation, got %q", shell.Observation)
	}

	if answer.Steps[1].Target.Tool != "store_memory" || answer.Steps[1].IsError {
		t.Errorf("unexpected memory step: %+v", answer.Steps[1])
	}

	// 5. ツールの結果がモデルへ戻されている
	script.mu.Lock()
	requests := script.requests
	script.mu.Unlock()
	if len(requests) != 3 {
		t.Fatalf("expected 3 llm requests, got %d", len(requests))
	}
	second := requests[1]
	if last := second[len(second)-1]; !strings.Contains(last.Content, "OBSERVATION") || !strings.Contains(last.Content, "hello-from-shell") {
		t.Errorf("expected observation in second request, got %q", last.Content)
	}

	// 6. エージェント経由で保存した記憶が残っている
	memories, err := env.Memory.SearchMemory(ctx, "hello-from-shell")
	if err != nil {
		t.Fatalf("search memory failed: %v", err)
	}
	if len(memories) != 1 {
		t.Errorf("expected 1 memory, got %d", len(memories))
	}
}

// TestE2E_REST_LegacyRoute はレガシーREST（POST /<tool>）を確認
func TestE2E_REST_LegacyRoute(t *testing.T) {
	env := setupTestEnv(t)
	srv := httptransport.New(env.Handler, httptransport.Config{Tools: env.Handler.Registry()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/execute_shell", "application/json", strings.NewReader(`{"command":"echo rest"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "success" || body["output"] != "rest" {
		t.Errorf("unexpected body: %v", body)
	}
}
