package ingest

import (
	"context"

	"github.com/kailas-cloud/noesis/internal/chunker"
	"github.com/kailas-cloud/noesis/internal/domain"
)

// Normalizer turns a URL into title, plain text, and a content kind.
type Normalizer interface {
	Normalize(ctx context.Context, url string) (domain.NormalizedContent, error)
}

// Chunker splits plain text into ordered spans.
type Chunker interface {
	Chunk(text string) []chunker.Span
}

// Enricher provides the independently failable enrichment calls.
type Enricher interface {
	Summarize(ctx context.Context, text string) (string, error)
	Extract(ctx context.Context, text string) (domain.Extraction, error)
}

// DocumentStore persists documents and chunks.
type DocumentStore interface {
	Create(ctx context.Context, doc *domain.Document) error
	SetSummary(ctx context.Context, id, summary string) error
	SetStatus(ctx context.Context, id string, status domain.Status) error
	InsertChunks(ctx context.Context, chunks []domain.Chunk) error
	SetChunkEmbeddings(ctx context.Context, ids []string, vectors [][]float32) error
}

// GraphStore persists entities, relationships, and mentions.
type GraphStore interface {
	FindEntity(ctx context.Context, name, entityType string) (domain.Entity, error)
	CreateEntity(ctx context.Context, e domain.Entity) (domain.Entity, error)
	CreateRelationship(ctx context.Context, rel domain.Relationship) error
	CreateMention(ctx context.Context, m domain.Mention) error
}
