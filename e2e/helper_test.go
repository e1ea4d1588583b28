//go:build e2e || qdrant_e2e

package e2e

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/brbranch/parmira/internal/jsonrpc"
	"github.com/brbranch/parmira/internal/memory"
	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/sandbox"
	"github.com/brbranch/parmira/internal/store"
	"github.com/brbranch/parmira/internal/tools"
)

// mockEmbedder はテスト用のモックEmbedder
// 決定論的な埋め込みベクトルを生成（テキストのハッシュから）
type mockEmbedder struct {
	dim int
}

// Embed はテキストから決定論的なベクトルを生成
func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := sha256.Sum256([]byte(text))

	vec := make([]float32, m.dim)
	for i := 0; i < m.dim; i++ {
		// 4バイトずつ読み込んでfloat32に変換
		offset := (i * 4) % len(hash)
		val := binary.BigEndian.Uint32(hash[offset : offset+4])
		vec[i] = float32(val) / float32(0xFFFFFFFF)
	}
	return vec, nil
}

// GetDimension はベクトルの次元数を返す
func (m *mockEmbedder) GetDimension() int {
	return m.dim
}

// testEnv はテスト用に組み立てたツールサーバー一式
type testEnv struct {
	Memory  *memory.Service
	Handler *jsonrpc.Handler
	FSRoot  string
}

// setupTestEnv は全バンドルを公開するHandlerを構築
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	// 1. STM（SQLite）
	stm, err := memory.OpenShortTerm(ctx, filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("failed to open short-term memory: %v", err)
	}

	// 2. LTM（MemoryStore + MockEmbedder）
	ltm := memory.NewLongTerm(store.NewMemoryStore(), &mockEmbedder{dim: 128})
	if err := ltm.Initialize(ctx, "semantic_memory-test"); err != nil {
		t.Fatalf("failed to initialize long-term memory: %v", err)
	}

	svc := memory.NewService(stm, ltm, 5, nil)
	t.Cleanup(func() { _ = svc.Close() })

	// 3. 全バンドルのRegistry
	fsRoot := filepath.Join(dir, "workspace")
	reg, err := tools.NewBundle(tools.BundleAll, tools.Deps{
		Config: model.ToolsConfig{
			FetchMaxChars: 2000,
		},
		Runner:     sandbox.NewDirect(),
		SQLitePath: filepath.Join(dir, "system.db"),
		FSRoot:     fsRoot,
		Memory:     svc,
	})
	if err != nil {
		t.Fatalf("failed to build tool bundle: %v", err)
	}

	return &testEnv{
		Memory:  svc,
		Handler: jsonrpc.New(reg, jsonrpc.WithServerName("parmira-all")),
		FSRoot:  fsRoot,
	}
}

// rpc はJSON-RPCリクエストを送り、生のレスポンスを返す
func rpc(t *testing.T, h *jsonrpc.Handler, method string, params any) *RawResponse {
	t.Helper()

	reqBytes, err := json.Marshal(model.Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	respBytes := h.Handle(context.Background(), reqBytes)
	var resp RawResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v (%s)", err, respBytes)
	}
	return &resp
}

// callTool はtools/callを呼び出し、結果テキストのJSONをデコードして返す
func callTool(t *testing.T, h *jsonrpc.Handler, name string, args map[string]any) (map[string]any, bool) {
	t.Helper()

	resp := rpc(t, h, model.MethodToolsCall, model.ToolsCallParams{Name: name, Arguments: args})
	if resp.Error != nil {
		t.Fatalf("tools/call %s failed: %v", name, resp.Error)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}
	var result model.ToolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to decode tools/call result: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(result.Text()), &body); err != nil {
		// Tool not found などはJSONではない
		return map[string]any{"text": result.Text()}, result.IsError
	}
	return body, result.IsError
}

// RawResponse は生のJSON-RPCレスポンス
type RawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *model.RPCError `json:"error,omitempty"`
}
