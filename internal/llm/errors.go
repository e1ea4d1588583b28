package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAPIKeyMissing はトークンが設定されていない
	ErrAPIKeyMissing = errors.New("llm api key not configured: set HUGGINGFACE_TOKEN")
	// ErrRequestFailed はリクエスト送信に失敗した
	ErrRequestFailed = errors.New("llm request failed")
	// ErrParse はレスポンスから本文を取り出せなかった
	ErrParse = errors.New("llm response parse error")
)

// ProviderError はchat completions APIのエラー応答
type ProviderError struct {
	StatusCode int
	Model      string
	Body       string
}

func (e *ProviderError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return "Error 401: Unauthorized. Check your HUGGINGFACE_TOKEN."
	case http.StatusNotFound:
		return fmt.Sprintf("Error 404: Model '%s' not found via router.", e.Model)
	case http.StatusServiceUnavailable:
		return "Error 503: Model loading. Try again in 30s."
	case http.StatusTooManyRequests:
		return "Error 429: Rate limited. Wait a minute."
	}
	if e.Body == "" {
		return fmt.Sprintf("HTTP Error %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, e.Body)
}

// Retryable はバックオフして再試行すべき応答かを返す
func (e *ProviderError) Retryable() bool {
	return retryable(e.StatusCode)
}
