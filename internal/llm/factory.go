package llm

import (
	"fmt"

	"github.com/hyperjump/scholar/internal/config"
	"go.uber.org/zap"
)

// mockAnswer cites the first source so that an offline setup still produces a grounded answer.
const mockAnswer = "The retrieved passages address the question [1]."

// New creates the completer selected by cfg.Provider: "openai", "ollama" or "mock".
func New(cfg config.LLMConfig, logger *zap.Logger) (Completer, error) {
	switch cfg.Provider {
	case string(ProviderOpenAI), string(ProviderOllama):
		c, err := NewClient(Config{
			Provider:    Provider(cfg.Provider),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
		}, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	case "mock":
		return NewMockCompleter(mockAnswer), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (supported: openai, ollama, mock)", cfg.Provider)
	}
}
