package config

import "time"

// DefaultAspects are the comparison aspects used when a request names none.
var DefaultAspects = []string{"methodology", "results", "conclusions", "limitations"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 5 * time.Minute
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 64 << 20
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/scholar/data/db/papers.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/scholar/data/indices/catalogue"
	}
	if cfg.Storage.InboxDir == "" {
		cfg.Storage.InboxDir = "/usr/local/var/scholar/inbox"
	}
	if cfg.Storage.FilesDir == "" {
		cfg.Storage.FilesDir = "/usr/local/var/scholar/data/papers"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.BaseURL == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.BaseURL = "https://api.openai.com/v1"
		case "ollama":
			cfg.Embedding.BaseURL = "http://localhost:11434"
		}
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		default:
			cfg.Embedding.Model = "bge-small-en-v1.5"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		if cfg.Embedding.Provider == "openai" {
			cfg.Embedding.Dimensions = 1536
		} else {
			cfg.Embedding.Dimensions = 384
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.MaxAttempts == 0 {
		cfg.Embedding.MaxAttempts = 2
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.BaseURL == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.BaseURL = "https://api.openai.com/v1"
		case "ollama":
			cfg.LLM.BaseURL = "http://localhost:11434"
		}
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.Model = "gpt-4o-mini"
		default:
			cfg.LLM.Model = "llama3.1"
		}
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.LLM.MaxAttempts == 0 {
		cfg.LLM.MaxAttempts = 2
	}

	if cfg.Grobid.URL == "" {
		cfg.Grobid.URL = "http://localhost:8070"
	}
	if cfg.Grobid.Timeout == 0 {
		cfg.Grobid.Timeout = 120 * time.Second
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 200
	}
	if cfg.RAG.SentenceTolerance == 0 {
		cfg.RAG.SentenceTolerance = 100
	}
	if cfg.RAG.DefaultNResults == 0 {
		cfg.RAG.DefaultNResults = 5
	}
	if cfg.RAG.MaxNResults == 0 {
		cfg.RAG.MaxNResults = 50
	}
	if cfg.RAG.MaxContextTokens == 0 {
		cfg.RAG.MaxContextTokens = 3000
	}
	if cfg.RAG.CompareContextsPerAspect == 0 {
		cfg.RAG.CompareContextsPerAspect = 3
	}
	if cfg.RAG.DefaultAspects == nil {
		cfg.RAG.DefaultAspects = append([]string(nil), DefaultAspects...)
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf"}
	}
}
