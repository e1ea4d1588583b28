package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/tools"
)

// === モックツール ===

type mockTool struct {
	name   string
	callFn func(ctx context.Context, args map[string]any) *tools.Result
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return "mock " + m.name }
func (m *mockTool) Schema() model.JSONSchema {
	return model.JSONSchema{Type: "object", Properties: map[string]model.JSONSchema{
		"value": {Type: "string"},
	}}
}

func (m *mockTool) Call(ctx context.Context, args map[string]any) *tools.Result {
	if m.callFn != nil {
		return m.callFn(ctx, args)
	}
	return tools.Success(map[string]any{"echo": args["value"]})
}

// === ヘルパー関数 ===

func makeRequest(method string, params any) []byte {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	b, _ := json.Marshal(req)
	return b
}

func parseResponse(t *testing.T, data []byte) map[string]any {
	var resp map[string]any
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return resp
}

func parseErrorResponse(t *testing.T, data []byte) *model.ErrorResponse {
	var resp model.ErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	return &resp
}

func newTestHandler(extra ...tools.Tool) *Handler {
	reg := tools.NewRegistry(nil)
	reg.Register(&mockTool{name: "echo"})
	reg.Register(extra...)
	return New(reg)
}

// === 1. パース系テスト ===

func TestHandle_ParseError_InvalidJSON(t *testing.T) {
	h := newTestHandler()
	result := h.Handle(context.Background(), []byte("not json"))
	resp := parseErrorResponse(t, result)

	if resp.Error.Code != model.ErrCodeParseError {
		t.Errorf("expected code %d, got %d", model.ErrCodeParseError, resp.Error.Code)
	}
	if resp.ID != nil {
		t.Errorf("expected null id, got %v", resp.ID)
	}
}

func TestHandle_InvalidRequest_WrongVersion(t *testing.T) {
	h := newTestHandler()
	req := []byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	result := h.Handle(context.Background(), req)
	resp := parseErrorResponse(t, result)

	if resp.Error.Code != model.ErrCodeInvalidRequest {
		t.Errorf("expected code %d, got %d", model.ErrCodeInvalidRequest, resp.Error.Code)
	}
}

func TestHandle_InvalidRequest_NoMethod(t *testing.T) {
	h := newTestHandler()
	req := []byte(`{"jsonrpc":"2.0","id":1}`)
	result := h.Handle(context.Background(), req)
	resp := parseErrorResponse(t, result)

	if resp.Error.Code != model.ErrCodeInvalidRequest {
		t.Errorf("expected code %d, got %d", model.ErrCodeInvalidRequest, resp.Error.Code)
	}
}

// === 2. ディスパッチ系テスト ===

func TestHandle_MethodNotFound(t *testing.T) {
	h := newTestHandler()
	result := h.Handle(context.Background(), makeRequest("memory.add_note", nil))
	resp := parseErrorResponse(t, result)

	if resp.Error.Code != model.ErrCodeMethodNotFound {
		t.Errorf("expected code %d, got %d", model.ErrCodeMethodNotFound, resp.Error.Code)
	}
	if resp.Error.Data != "memory.add_note" {
		t.Errorf("expected data to be the method name, got %v", resp.Error.Data)
	}
}

func TestHandle_InvalidParams(t *testing.T) {
	h := newTestHandler()
	result := h.Handle(context.Background(), makeRequest("tools/call", []any{"not", "an", "object"}))
	resp := parseErrorResponse(t, result)

	if resp.Error.Code != model.ErrCodeInvalidParams {
		t.Errorf("expected code %d, got %d", model.ErrCodeInvalidParams, resp.Error.Code)
	}
}

func TestHandle_Ping(t *testing.T) {
	h := newTestHandler()
	resp := parseResponse(t, h.Handle(context.Background(), makeRequest("ping", nil)))

	if resp["error"] != nil {
		t.Fatalf("unexpected error: %v", resp["error"])
	}
	if _, ok := resp["result"].(map[string]any); !ok {
		t.Errorf("expected empty object result, got %v", resp["result"])
	}
	if resp["id"] != float64(1) {
		t.Errorf("expected id 1, got %v", resp["id"])
	}
}

func TestHandle_StringID(t *testing.T) {
	h := newTestHandler()
	resp := parseResponse(t, h.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":"abc","method":"ping"}`)))
	if resp["id"] != "abc" {
		t.Errorf("expected id abc, got %v", resp["id"])
	}
}

func TestHandle_Notification_NoResponse(t *testing.T) {
	h := newTestHandler()
	for _, req := range []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`,
		`{"jsonrpc":"2.0","method":"ping"}`,
	} {
		if result := h.Handle(context.Background(), []byte(req)); result != nil {
			t.Errorf("expected no response for %s, got %s", req, result)
		}
	}
}

// === 3. ツール結果の変換 ===

func TestHandle_ToolsCall_HTTPStyleFailure(t *testing.T) {
	h := newTestHandler(&mockTool{
		name: "denied",
		callFn: func(ctx context.Context, args map[string]any) *tools.Result {
			return tools.Failure(http.StatusForbidden, "Access denied.")
		},
	})

	result := h.Handle(context.Background(), makeRequest("tools/call", map[string]any{"name": "denied"}))
	resp := parseResponse(t, result)

	resultMap := resp["result"].(map[string]any)
	if resultMap["isError"] != true {
		t.Fatalf("expected isError true, got %v", resultMap["isError"])
	}

	text := resultMap["content"].([]any)[0].(map[string]any)["text"].(string)
	var body map[string]any
	if err := json.Unmarshal([]byte(text), &body); err != nil {
		t.Fatalf("content is not JSON: %v", err)
	}
	if body["code"] != float64(403) || body["detail"] != "Access denied." || body["status"] != "error" {
		t.Errorf("unexpected body: %v", body)
	}
}
