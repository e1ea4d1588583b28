package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brbranch/parmira/internal/model"
)

func withFastRetry(t *testing.T) {
	t.Helper()
	orig := RetryBaseDelay
	RetryBaseDelay = time.Millisecond
	t.Cleanup(func() { RetryBaseDelay = orig })
}

func newTestClient(url string) *Client {
	return New(model.LLMConfig{BaseURL: url, Model: "test/model", MaxRetries: 2}, "secret")
}

func TestChat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test/model", req.Model)
		assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"### FINAL ANSWER\ndone"}}]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "### FINAL ANSWER\ndone", got)
}

func TestChat_OptionsOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "other/model", req.Model)
		assert.Equal(t, 10, req.MaxTokens)
		assert.InDelta(t, 0.5, req.Temperature, 1e-9)
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	temp := 0.5
	_, err := newTestClient(srv.URL).Chat(context.Background(), nil, Options{
		Model: "other/model", MaxTokens: 10, Temperature: &temp,
	})
	require.NoError(t, err)
}

func TestChat_MissingKey(t *testing.T) {
	c := New(model.LLMConfig{}, "")
	_, err := c.Chat(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrAPIKeyMissing)
}

func TestChat_ErrorMessages(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{http.StatusUnauthorized, "", "Error 401: Unauthorized. Check your HUGGINGFACE_TOKEN."},
		{http.StatusNotFound, "", "Error 404: Model 'test/model' not found via router."},
		{http.StatusBadRequest, `{"error":"bad"}`, `HTTP Error 400: {"error":"bad"}`},
		{http.StatusInternalServerError, "", "HTTP Error 500"},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))

		_, err := newTestClient(srv.URL).Chat(context.Background(), nil, Options{})
		srv.Close()

		var perr *ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, tt.status, perr.StatusCode)
		assert.Equal(t, tt.want, err.Error())
	}
}

func TestChat_RetriesRateLimit(t *testing.T) {
	withFastRetry(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"after retry"}}]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Chat(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "after retry", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChat_RetriesExhausted(t *testing.T) {
	withFastRetry(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Chat(context.Background(), nil, Options{})
	assert.EqualError(t, err, "Error 503: Model loading. Try again in 30s.")
	assert.Equal(t, int32(3), calls.Load())
}

func TestChat_ParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Chat(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrParse)
}

func TestChat_ContextCancelled(t *testing.T) {
	// ハンドラーはテスト終了まで応答しない（Closeより先にreleaseを閉じる）
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := newTestClient(srv.URL).Chat(ctx, nil, Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNew_Defaults(t *testing.T) {
	c := New(model.LLMConfig{}, "k")
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
}
