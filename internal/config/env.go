package config

import (
	"os"

	"github.com/brbranch/parmira/internal/model"
)

// 環境変数名の定数
const (
	EnvHuggingFaceToken = "HUGGINGFACE_TOKEN"
	EnvHFAPIToken       = "HF_API_TOKEN"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvPrefix           = "PARMIRA"
)

// GetLLMAPIKey はLLM用のトークンを取得する
// HUGGINGFACE_TOKEN > HF_API_TOKEN > 設定ファイル の順で優先
func GetLLMAPIKey(config *model.Config) string {
	if token := os.Getenv(EnvHuggingFaceToken); token != "" {
		return token
	}
	if token := os.Getenv(EnvHFAPIToken); token != "" {
		return token
	}
	return config.LLM.APIKey
}

// GetOpenAIAPIKey は環境変数からOpenAI APIキーを取得する
// 設定ファイルの値より環境変数を優先
func GetOpenAIAPIKey(config *model.Config) string {
	if apiKey := os.Getenv(EnvOpenAIAPIKey); apiKey != "" {
		return apiKey
	}
	if config.Embedder.APIKey != nil {
		return *config.Embedder.APIKey
	}
	return ""
}
