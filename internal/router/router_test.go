package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brbranch/parmira/internal/model"
)

type fakeCaller struct {
	tools   []model.Tool
	listErr error
	callErr error

	gotTool string
	gotArgs map[string]any
}

func (f *fakeCaller) ListTools(ctx context.Context) ([]model.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args map[string]any) (*model.ToolsCallResult, error) {
	f.gotTool = name
	f.gotArgs = args
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &model.ToolsCallResult{Content: []model.ContentItem{model.NewTextContent(`{"status":"success"}`)}}, nil
}

func newRouter() (*Router, map[string]*fakeCaller) {
	fakes := map[string]*fakeCaller{
		"shell": {tools: []model.Tool{{
			Name:        "execute_shell",
			Description: "Run a command",
			InputSchema: model.JSONSchema{
				Type:       "object",
				Properties: map[string]model.JSONSchema{"command": {Type: "string"}},
				Required:   []string{"command"},
			},
		}}},
		"fs":     {},
		"memory": {listErr: errors.New("down")},
	}
	servers := make(map[string]Caller, len(fakes))
	for k, v := range fakes {
		servers[k] = v
	}
	return New(servers, nil), fakes
}

func TestResolve(t *testing.T) {
	r, _ := newRouter()

	tests := []struct {
		call ToolCall
		want Target
	}{
		{ToolCall{Tool: "SHELL_COMMAND"}, Target{CategoryShell, "shell", "execute_shell"}},
		{ToolCall{Tool: "bash"}, Target{CategoryShell, "shell", "execute_shell"}},
		{ToolCall{Tool: "Shell", Endpoint: "/exec"}, Target{CategoryShell, "shell", "execute_shell"}},
		{ToolCall{Tool: "execute_shell"}, Target{CategoryShell, "shell", "execute_shell"}},
		{ToolCall{Tool: "FILESYSTEM"}, Target{CategoryFilesystem, "fs", "list_files"}},
		{ToolCall{Tool: "fs", Endpoint: "/read_file"}, Target{CategoryFilesystem, "fs", "read_file"}},
		{ToolCall{Tool: "FILESYSTEM", Endpoint: "/list_files"}, Target{CategoryFilesystem, "fs", "list_files"}},
		{ToolCall{Tool: "list_files"}, Target{CategoryFilesystem, "fs", "list_files"}},
		{ToolCall{Tool: "memory", Endpoint: "store-memory"}, Target{CategoryMemory, "memory", "store_memory"}},
	}
	for _, tt := range tests {
		got, err := r.Resolve(tt.call)
		require.NoError(t, err, tt.call.Tool)
		assert.Equal(t, tt.want, got, tt.call.Tool)
	}
}

func TestResolve_Unknown(t *testing.T) {
	r, _ := newRouter()

	_, err := r.Resolve(ToolCall{Tool: "teleport"})
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.EqualError(t, err, "Unknown MCP tool: teleport")

	// カテゴリは既知でもサーバー未設定なら解決できない
	_, err = r.Resolve(ToolCall{Tool: "FETCH_WEB"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRoute(t *testing.T) {
	r, fakes := newRouter()

	res, target, err := r.Route(context.Background(), ToolCall{
		Tool:    "shell",
		Payload: map[string]any{"command": "ls"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "shell", target.Server)
	assert.Equal(t, "execute_shell", fakes["shell"].gotTool)
	assert.Equal(t, "ls", fakes["shell"].gotArgs["command"])
}

func TestRoute_TransportFailure(t *testing.T) {
	r, fakes := newRouter()
	fakes["fs"].callErr = errors.New("connection refused")

	res, _, err := r.Route(context.Background(), ToolCall{Tool: "fs"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.JSONEq(t, `{"error":"connection refused"}`, res.Text())
}

func TestRoute_Unknown(t *testing.T) {
	r, _ := newRouter()
	_, _, err := r.Route(context.Background(), ToolCall{Tool: "nope"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestTools(t *testing.T) {
	r, _ := newRouter()
	var names []string
	for _, c := range r.Tools() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{CategoryShell, CategoryFilesystem, CategoryMemory}, names)
}

func TestDescribe(t *testing.T) {
	r, _ := newRouter()
	got := r.Describe(context.Background())

	assert.Contains(t, got, "- SHELL_COMMAND (shell): run a single command without a shell")
	assert.Contains(t, got, "  - endpoint /execute_shell: Run a command payload {command*}")
	assert.Contains(t, got, "- MEMORY (memory): short-term and long-term memory")
	assert.NotContains(t, got, "FETCH_WEB")
}

func TestToolCall_UnmarshalJSON(t *testing.T) {
	var call ToolCall
	require.NoError(t, json.Unmarshal([]byte(`{"tool_call":"shell","endpoint":"/execute_shell","payload":{"command":"pwd"}}`), &call))
	assert.Equal(t, ToolCall{Tool: "shell", Endpoint: "/execute_shell", Payload: map[string]any{"command": "pwd"}}, call)

	require.NoError(t, json.Unmarshal([]byte(`{"tool":"PYTHON_EVAL","arguments":{"code":"result = 1"}}`), &call))
	assert.Equal(t, "PYTHON_EVAL", call.Tool)
	assert.Equal(t, "result = 1", call.Payload["code"])
}
