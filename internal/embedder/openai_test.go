package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// mockDimUpdater はテスト用のDimUpdater実装
type mockDimUpdater struct {
	mu         sync.Mutex
	updatedDim int
	callCount  int
	err        error
}

func (m *mockDimUpdater) UpdateDim(dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatedDim = dim
	m.callCount++
	return m.err
}

// openAIHandler は正常応答を返すハンドラ
func openAIHandler(t *testing.T, embedding []float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-api-key" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.EncodingFormat != "float" {
			t.Errorf("expected encoding_format float, got %q", req.EncodingFormat)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data":  []map[string]any{{"embedding": embedding, "index": 0}},
			"model": req.Model,
		})
	}
}

func TestOpenAIEmbedder_APIKeyRequired(t *testing.T) {
	_, err := NewOpenAIEmbedder("")
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Errorf("expected ErrAPIKeyRequired, got %v", err)
	}
}

func TestOpenAIEmbedder_Embed_Success(t *testing.T) {
	expected := []float32{0.1, 0.2, 0.3}
	server := httptest.NewServer(openAIHandler(t, expected))
	defer server.Close()

	emb, err := NewOpenAIEmbedder("test-api-key", WithBaseURL(server.URL+"/"), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	result, err := emb.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(result) != len(expected) {
		t.Fatalf("expected %d elements, got %d", len(expected), len(result))
	}
	for i, v := range result {
		if v != expected[i] {
			t.Errorf("element %d: expected %f, got %f", i, expected[i], v)
		}
	}
	if emb.GetDimension() != 3 {
		t.Errorf("expected dim 3, got %d", emb.GetDimension())
	}
}

func TestOpenAIEmbedder_Embed_DimUpdatedOnlyOnce(t *testing.T) {
	server := httptest.NewServer(openAIHandler(t, []float32{0.1, 0.2, 0.3, 0.4, 0.5}))
	defer server.Close()

	updater := &mockDimUpdater{}
	emb, err := NewOpenAIEmbedder("test-api-key",
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithDimUpdater(updater))
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := emb.Embed(context.Background(), "test text"); err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
	}

	if updater.callCount != 1 {
		t.Errorf("expected UpdateDim to be called once, got %d", updater.callCount)
	}
	if updater.updatedDim != 5 {
		t.Errorf("expected dim 5, got %d", updater.updatedDim)
	}
}

func TestOpenAIEmbedder_Embed_KnownDimNotUpdated(t *testing.T) {
	server := httptest.NewServer(openAIHandler(t, []float32{0.1, 0.2}))
	defer server.Close()

	updater := &mockDimUpdater{}
	emb, _ := NewOpenAIEmbedder("test-api-key",
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithDim(1536),
		WithDimUpdater(updater))

	if _, err := emb.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if updater.callCount != 0 {
		t.Errorf("expected no UpdateDim call, got %d", updater.callCount)
	}
	if emb.GetDimension() != 1536 {
		t.Errorf("expected dim 1536, got %d", emb.GetDimension())
	}
}

func TestOpenAIEmbedder_Embed_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
			},
			wantErr: ErrAPIRequestFailed,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
			wantErr: ErrInvalidResponse,
		},
		{
			name: "empty data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"data":[]}`))
			},
			wantErr: ErrEmptyEmbedding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			emb, _ := NewOpenAIEmbedder("test-api-key", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
			_, err := emb.Embed(context.Background(), "text")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestOpenAIEmbedder_Embed_APIErrorDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	emb, _ := NewOpenAIEmbedder("test-api-key", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	_, err := emb.Embed(context.Background(), "text")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "slow down" {
		t.Errorf("unexpected message: %q", apiErr.Message)
	}
}

func TestOpenAIEmbedder_Embed_EmptyText(t *testing.T) {
	emb, _ := NewOpenAIEmbedder("test-api-key")
	_, err := emb.Embed(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyText) || !errors.Is(err, ErrEmptyEmbedding) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestOpenAIEmbedder_Embed_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	emb, _ := NewOpenAIEmbedder("test-api-key", WithBaseURL(server.URL), WithHTTPClient(server.Client()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := emb.Embed(ctx, "text")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}
