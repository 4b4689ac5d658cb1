package embedding

import (
	"fmt"

	"github.com/hyperjump/scholar/internal/config"
	"go.uber.org/zap"
)

// New creates the embedder selected by cfg.Provider: "openai", "ollama", "onnx" or "mock".
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case string(ProviderOpenAI), string(ProviderOllama):
		e, err := NewHTTPEmbedder(HTTPConfig{
			Provider:    Provider(cfg.Provider),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Dimensions:  cfg.Dimensions,
			BatchSize:   cfg.BatchSize,
			CacheSize:   cfg.CacheSize,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
		}, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return e, nil
	case "onnx":
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, ollama, onnx, mock)", cfg.Provider)
	}
}
