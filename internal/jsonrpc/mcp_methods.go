package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/tools"
)

// ServerVersion はサーバーのバージョン（ビルド時に設定可能）
var ServerVersion = "0.1.0"

// handleInitialize は initialize メソッドを処理
func (h *Handler) handleInitialize(ctx context.Context, params any) (any, error) {
	// パラメータをパース（検証は最小限）
	var p model.InitializeParams
	if err := mapParams(params, &p); err != nil {
		return nil, err
	}
	h.logger.Info("client initialized",
		"client", p.ClientInfo.Name,
		"clientVersion", p.ClientInfo.Version,
		"protocolVersion", p.ProtocolVersion,
	)

	return &model.InitializeResult{
		ProtocolVersion: model.MCPProtocolVersion,
		ServerInfo:      h.serverInfo,
		Capabilities: model.Capabilities{
			Tools: &model.ToolsCapability{},
		},
		Instructions: h.instructions,
	}, nil
}

// handleToolsList は tools/list メソッドを処理
func (h *Handler) handleToolsList(ctx context.Context, params any) (any, error) {
	return &model.ToolsListResult{
		Tools: h.registry.Definitions(),
	}, nil
}

// handleToolsCall は tools/call メソッドを処理
// ツールの失敗はプロトコルエラーではなく isError 付きの結果で返す（MCP仕様）
func (h *Handler) handleToolsCall(ctx context.Context, params any) (any, error) {
	var p model.ToolsCallParams
	if err := mapParams(params, &p); err != nil {
		return nil, err
	}

	// ツール名必須チェック
	if p.Name == "" {
		return model.NewToolError("Error: tool name is required"), nil
	}

	result, err := h.registry.Call(ctx, p.Name, p.Arguments)
	if errors.Is(err, tools.ErrUnknownTool) {
		return model.NewToolError(fmt.Sprintf("Tool not found: %s", p.Name)), nil
	}
	if err != nil {
		return model.NewToolError(fmt.Sprintf("Error: %s", err.Error())), nil
	}

	// 結果をJSON文字列に変換してcontentに含める
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return model.NewToolError(fmt.Sprintf("Error serializing result: %s", err.Error())), nil
	}

	return &model.ToolsCallResult{
		Content: []model.ContentItem{
			model.NewTextContent(string(resultJSON)),
		},
		IsError: result.IsError(),
	}, nil
}
