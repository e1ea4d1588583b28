package embedder

import (
	"context"
	"net/http"
	"strings"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"
)

// OpenAIEmbedder はOpenAI互換の /embeddings APIを使用するEmbedder実装
type OpenAIEmbedder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dim        dimension
}

// NewOpenAIEmbedder は新しいOpenAIEmbedderを作成
func NewOpenAIEmbedder(apiKey string, opts ...Option) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	o := buildOptions(DefaultOpenAIBaseURL, DefaultOpenAIModel, opts)
	return &OpenAIEmbedder{
		httpClient: o.httpClient,
		baseURL:    strings.TrimRight(o.baseURL, "/"),
		apiKey:     apiKey,
		model:      o.model,
		dim:        dimension{value: o.dim, updater: o.dimUpdater},
	}, nil
}

type openAIRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	EncodingFormat string `json:"encoding_format"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed はテキストを埋め込みベクトルに変換
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.apiKey)

	var resp openAIResponse
	err := postJSON(ctx, e.httpClient, "openai", e.baseURL+"/embeddings", header, openAIRequest{
		Model:          e.model,
		Input:          text,
		EncodingFormat: "float",
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	embedding := resp.Data[0].Embedding
	e.dim.observe(len(embedding))
	return embedding, nil
}

// GetDimension は次元を返す
func (e *OpenAIEmbedder) GetDimension() int {
	return e.dim.get()
}
