// Package embedding provides the vectorizer adapters (HTTP providers, ONNX, mock) and caching.
package embedding

import "context"

// Embedder produces vector embeddings for text. Every vector it returns has Dimensions() entries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Pinger is implemented by embedders backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}
