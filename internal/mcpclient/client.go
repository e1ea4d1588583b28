// Package mcpclient talks to MCP tool servers over HTTP, stdio or in process.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/brbranch/parmira/internal/model"
)

// ClientName はinitializeで名乗るクライアント名
const ClientName = "parmira"

var (
	// ErrClosed はクローズ済みのクライアントを使った
	ErrClosed = errors.New("mcp client closed")
	// ErrEmptyResponse は要求に対してレスポンスがなかった
	ErrEmptyResponse = errors.New("empty response from mcp server")
)

// Transport はJSON-RPCメッセージを1往復させる
// 通知（IDなし）に対してはnilを返す
type Transport interface {
	RoundTrip(ctx context.Context, message []byte) ([]byte, error)
	Close() error
}

// Client はMCPサーバーのクライアント
type Client struct {
	transport Transport
	version   string

	mu          sync.Mutex
	initialized *model.InitializeResult
}

// New はTransportからClientを作る
func New(t Transport) *Client {
	return &Client{transport: t, version: "0.1.0"}
}

// Initialize はハンドシェイクを行う（2回目以降は前回の結果を返す）
func (c *Client) Initialize(ctx context.Context) (*model.InitializeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized != nil {
		return c.initialized, nil
	}

	var result model.InitializeResult
	err := c.call(ctx, model.MethodInitialize, model.InitializeParams{
		ProtocolVersion: model.MCPProtocolVersion,
		ClientInfo:      model.ClientInfo{Name: ClientName, Version: c.version},
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := c.notify(ctx, model.MethodInitialized); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	c.initialized = &result
	return c.initialized, nil
}

// ListTools はサーバーのツール一覧を取得する
func (c *Client) ListTools(ctx context.Context) ([]model.Tool, error) {
	var result model.ToolsListResult
	if err := c.call(ctx, model.MethodToolsList, nil, &result); err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	return result.Tools, nil
}

// CallTool はツールを実行する
// ツール側の失敗はIsError付きの結果として返り、errorにはならない
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*model.ToolsCallResult, error) {
	var result model.ToolsCallResult
	err := c.call(ctx, model.MethodToolsCall, model.ToolsCallParams{
		Name:      name,
		Arguments: args,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return &result, nil
}

// Ping は疎通確認
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, model.MethodPing, nil, nil)
}

// Close はTransportを閉じる
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	req := model.NewRequest(uuid.NewString(), method, params)
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	respBytes, err := c.transport.RoundTrip(ctx, body)
	if err != nil {
		return err
	}
	if len(respBytes) == 0 {
		return ErrEmptyResponse
	}

	var resp model.RawResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	body, err := json.Marshal(model.NewNotification(method, nil))
	if err != nil {
		return err
	}
	_, err = c.transport.RoundTrip(ctx, body)
	return err
}
