package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// RetryBaseDelay は429/503時のバックオフの初期値（テストで短くする）
var RetryBaseDelay = 2 * time.Second

const defaultMaxRetries = 3

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// doWithRetry は429/503に対して指数バックオフで再試行する
// 再試行を使い切った場合は最後の応答をそのまま返す
func doWithRetry(ctx context.Context, client *http.Client, req *http.Request, body []byte, maxRetries int) (*http.Response, error) {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		r := req.Clone(ctx)
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))

		resp, err := client.Do(r)
		if err != nil {
			return nil, err
		}
		if !retryable(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		// 再試行前にボディを読み捨てる
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		backoff := RetryBaseDelay << attempt
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}
