package domain

import "context"

// Embedder vectorizes text. Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed vectorizes a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch vectorizes several texts in one provider request, returning
	// vectors in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
