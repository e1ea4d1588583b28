package embedder

import (
	"context"
	"net/http"
	"strings"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "nomic-embed-text"
)

// OllamaEmbedder はOllamaの /api/embeddings を使用するEmbedder実装
type OllamaEmbedder struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dim        dimension
}

// NewOllamaEmbedder は新しいOllamaEmbedderを作成
func NewOllamaEmbedder(opts ...Option) *OllamaEmbedder {
	o := buildOptions(DefaultOllamaBaseURL, DefaultOllamaModel, opts)
	if o.baseURL == "" {
		o.baseURL = DefaultOllamaBaseURL
	}
	if o.model == "" {
		o.model = DefaultOllamaModel
	}
	return &OllamaEmbedder{
		httpClient: o.httpClient,
		baseURL:    strings.TrimRight(o.baseURL, "/"),
		model:      o.model,
		dim:        dimension{value: o.dim, updater: o.dimUpdater},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed はテキストを埋め込みベクトルに変換
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var resp ollamaResponse
	err := postJSON(ctx, e.httpClient, "ollama", e.baseURL+"/api/embeddings", nil, ollamaRequest{
		Model:  e.model,
		Prompt: text,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	e.dim.observe(len(resp.Embedding))
	return resp.Embedding, nil
}

// GetDimension は次元を返す
func (e *OllamaEmbedder) GetDimension() int {
	return e.dim.get()
}
