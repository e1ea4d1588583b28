package embedder

import "net/http"

// options はリモートEmbedder共通の設定
type options struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dim        int
	dimUpdater DimUpdater
}

// Option はリモートEmbedderのオプション
type Option func(*options)

// WithBaseURL はベースURLを設定
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithModel はモデルを設定
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithDim は既知の次元を設定
func WithDim(dim int) Option {
	return func(o *options) {
		o.dim = dim
	}
}

// WithDimUpdater は次元更新コールバックを設定
func WithDimUpdater(updater DimUpdater) Option {
	return func(o *options) {
		o.dimUpdater = updater
	}
}

// WithHTTPClient はHTTPクライアントを設定
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func buildOptions(baseURL, model string, opts []Option) options {
	o := options{
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		model:      model,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
