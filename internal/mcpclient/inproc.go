package mcpclient

import "context"

// Handler はプロセス内のJSON-RPCハンドラー
type Handler interface {
	Handle(ctx context.Context, requestBytes []byte) []byte
}

// InProcTransport はハンドラーを直接呼び出す
type InProcTransport struct {
	handler Handler
}

// NewInProc はプロセス内のClientを作る
func NewInProc(h Handler) *Client {
	return New(&InProcTransport{handler: h})
}

// RoundTrip はハンドラーに渡す
func (t *InProcTransport) RoundTrip(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.handler.Handle(ctx, message), nil
}

// Close は何もしない
func (t *InProcTransport) Close() error {
	return nil
}
