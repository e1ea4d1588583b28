package embedder

import (
	"fmt"

	"github.com/brbranch/parmira/internal/model"
)

// NewEmbedder はEmbedderConfigからEmbedderを作成
func NewEmbedder(cfg *model.EmbedderConfig, envAPIKey string, dimUpdater DimUpdater) (Embedder, error) {
	var opts []Option
	if cfg.BaseURL != nil && *cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(*cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, WithModel(cfg.Model))
	}
	if cfg.Dim > 0 {
		opts = append(opts, WithDim(cfg.Dim))
	}
	if dimUpdater != nil {
		opts = append(opts, WithDimUpdater(dimUpdater))
	}

	switch cfg.Provider {
	case model.ProviderOpenAI:
		// APIKey解決: cfg.APIKey > envAPIKey
		apiKey := envAPIKey
		if cfg.APIKey != nil && *cfg.APIKey != "" {
			apiKey = *cfg.APIKey
		}
		return NewOpenAIEmbedder(apiKey, opts...)

	case model.ProviderOllama:
		return NewOllamaEmbedder(opts...), nil

	case model.ProviderLocal, "":
		return NewLocalEmbedder(cfg.Dim), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
