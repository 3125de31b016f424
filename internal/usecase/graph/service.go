// Package graph serves knowledge-graph reads: the full graph, per-document
// subgraphs, and entity neighborhoods.
package graph

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// Service handles graph read operations.
type Service struct {
	repo Repository
	docs DocumentReader
}

// New creates a graph service.
func New(repo Repository, docs DocumentReader) *Service {
	return &Service{repo: repo, docs: docs}
}

// FullGraph returns every entity with its mention count plus every
// relationship.
func (s *Service) FullGraph(ctx context.Context) (domain.Graph, error) {
	g, err := s.repo.FullGraph(ctx)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("load graph: %w", err)
	}
	return g, nil
}

// DocumentSubgraph returns entities mentioned in one document plus the
// relationships strictly between them.
func (s *Service) DocumentSubgraph(ctx context.Context, documentID string) (domain.Graph, error) {
	if _, err := s.docs.Get(ctx, documentID); err != nil {
		return domain.Graph{}, err
	}
	g, err := s.repo.DocumentSubgraph(ctx, documentID)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("load document subgraph: %w", err)
	}
	return g, nil
}

// EntityDetail returns an entity with its documents and direct neighbors.
func (s *Service) EntityDetail(ctx context.Context, id string) (domain.EntityDetail, error) {
	detail, err := s.repo.EntityDetail(ctx, id)
	if err != nil {
		return domain.EntityDetail{}, err
	}
	return detail, nil
}
