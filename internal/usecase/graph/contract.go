package graph

import (
	"context"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// Repository serves the knowledge-graph read paths.
type Repository interface {
	FullGraph(ctx context.Context) (domain.Graph, error)
	DocumentSubgraph(ctx context.Context, documentID string) (domain.Graph, error)
	EntityDetail(ctx context.Context, id string) (domain.EntityDetail, error)
}

// DocumentReader checks a subgraph's document exists.
type DocumentReader interface {
	Get(ctx context.Context, id string) (domain.Document, error)
}
