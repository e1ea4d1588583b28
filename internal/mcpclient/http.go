package mcpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout はHTTPトランスポートのデフォルトタイムアウト
const DefaultHTTPTimeout = 10 * time.Second

// HTTPTransport は POST <url>/rpc でJSON-RPCを送る
type HTTPTransport struct {
	endpoint   string
	httpClient *http.Client
}

// HTTPOption はHTTPTransportのオプション
type HTTPOption func(*HTTPTransport)

// WithHTTPClient はHTTPクライアントを設定
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.httpClient = client
	}
}

// WithTimeout はタイムアウトを設定
func WithTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.httpClient.Timeout = d
		}
	}
}

// NewHTTPTransport はサーバーのベースURLからトランスポートを作る
// "/rpc" で終わるURLはそのまま使う
func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	endpoint := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(endpoint, "/rpc") {
		endpoint += "/rpc"
	}
	t := &HTTPTransport{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewHTTP はHTTPのClientを作る
func NewHTTP(baseURL string, opts ...HTTPOption) *Client {
	return New(NewHTTPTransport(baseURL, opts...))
}

// RoundTrip はリクエストを送りレスポンスボディを返す
func (t *HTTPTransport) RoundTrip(ctx context.Context, message []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(message))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", t.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("mcp server %s returned HTTP %d: %s", t.endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Close はアイドル接続を閉じる
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}
