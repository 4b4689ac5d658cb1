// Package config provides configuration loading and structs for the scholar server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Grobid    GrobidConfig    `yaml:"grobid"`
	RAG       RAGConfig       `yaml:"rag"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// StorageConfig holds paths for the paper database and the catalogue index.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
	// InboxDir is watched for dropped papers when watch.enabled is set.
	InboxDir string `yaml:"inbox_dir"`
	// FilesDir keeps a copy of every uploaded file so that it can be served back.
	FilesDir string `yaml:"files_dir"`
}

// EmbeddingConfig selects and configures the vectorizer.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // openai, ollama, onnx, mock
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Dimensions  int           `yaml:"dimensions"`
	QueryPrefix string        `yaml:"query_prefix"`
	ModelPath   string        `yaml:"model_path"`
	MaxTokens   int           `yaml:"max_tokens"`
	CacheSize   int           `yaml:"cache_size"`
	BatchSize   int           `yaml:"batch_size"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// LLMConfig selects and configures the completion service.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // openai, ollama, mock
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// GrobidConfig holds document-structure service settings.
type GrobidConfig struct {
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	FallbackPDF *bool         `yaml:"fallback_pdf"`
}

// FallbackOrDefault returns whether local PDF extraction is used when GROBID fails; defaults to true.
func (g *GrobidConfig) FallbackOrDefault() bool {
	if g.FallbackPDF != nil {
		return *g.FallbackPDF
	}
	return true
}

// RAGConfig holds chunking, retrieval and comparison settings.
type RAGConfig struct {
	ChunkSize                int      `yaml:"chunk_size"`
	ChunkOverlap             int      `yaml:"chunk_overlap"`
	SentenceTolerance        int      `yaml:"sentence_tolerance"`
	DefaultNResults          int      `yaml:"default_n_results"`
	MaxNResults              int      `yaml:"max_n_results"`
	MaxContextTokens         int      `yaml:"max_context_tokens"`
	CompareContextsPerAspect int      `yaml:"compare_contexts_per_aspect"`
	DefaultAspects           []string `yaml:"default_aspects"`
	StrictIDs                bool     `yaml:"strict_ids"`
}

// WatchConfig holds inbox watch settings.
type WatchConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to false when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return false
}

// WatchRoots returns the directories to watch: the inbox followed by the configured
// directories, without duplicates.
func (c *Config) WatchRoots() []string {
	seen := make(map[string]bool)
	var roots []string
	for _, d := range append([]string{c.Storage.InboxDir}, c.Watch.Directories...) {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		roots = append(roots, d)
	}
	return roots
}

// Load reads and parses the config file at path, overlays environment variables,
// expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.InboxDir = expandPath(cfg.Storage.InboxDir, configDir)
	cfg.Storage.FilesDir = expandPath(cfg.Storage.FilesDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Default returns a config with every default applied, for running without a config file.
func Default() *Config {
	var cfg Config
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg
}

// Validate rejects settings the chunker and retriever cannot work with.
func Validate(cfg *Config) error {
	if cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap (%d) must be smaller than rag.chunk_size (%d)",
			cfg.RAG.ChunkOverlap, cfg.RAG.ChunkSize)
	}
	if cfg.RAG.ChunkOverlap < 0 || cfg.RAG.SentenceTolerance < 0 {
		return fmt.Errorf("rag.chunk_overlap and rag.sentence_tolerance must not be negative")
	}
	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
