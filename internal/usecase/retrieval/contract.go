package retrieval

import (
	"context"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// ChunkSearcher serves the two chunk ranking signals.
type ChunkSearcher interface {
	SearchVector(ctx context.Context, query []float32, limit int) ([]domain.ChunkMatch, error)
	SearchLexical(ctx context.Context, query string, limit int) ([]domain.ChunkMatch, error)
}

// EntitySearcher serves entity lookups and ranking.
type EntitySearcher interface {
	GetEntity(ctx context.Context, id string) (domain.Entity, error)
	EntityDetail(ctx context.Context, id string) (domain.EntityDetail, error)
	SearchVector(ctx context.Context, query []float32, limit int) ([]domain.Entity, error)
	SearchName(ctx context.Context, query string, limit int) ([]domain.Entity, error)
	RelationshipsTouching(ctx context.Context, ids []string) ([]domain.Relationship, error)
}

// DocumentReader resolves a focus document.
type DocumentReader interface {
	Get(ctx context.Context, id string) (domain.Document, error)
}
