package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// --- Mocks ---

type mockRepo struct {
	full      domain.Graph
	fullErr   error
	sub       domain.Graph
	subErr    error
	detail    domain.EntityDetail
	detailErr error
}

func (m *mockRepo) FullGraph(_ context.Context) (domain.Graph, error) {
	return m.full, m.fullErr
}

func (m *mockRepo) DocumentSubgraph(_ context.Context, _ string) (domain.Graph, error) {
	return m.sub, m.subErr
}

func (m *mockRepo) EntityDetail(_ context.Context, _ string) (domain.EntityDetail, error) {
	return m.detail, m.detailErr
}

type mockDocs struct {
	err error
}

func (m *mockDocs) Get(_ context.Context, id string) (domain.Document, error) {
	if m.err != nil {
		return domain.Document{}, m.err
	}
	return domain.Document{ID: id}, nil
}

// --- Tests ---

func TestFullGraph(t *testing.T) {
	repo := &mockRepo{full: domain.Graph{
		Entities: []domain.EntityWithMentions{{Entity: domain.Entity{ID: "e1"}, MentionCount: 2}},
	}}
	svc := New(repo, &mockDocs{})

	g, err := svc.FullGraph(context.Background())
	if err != nil {
		t.Fatalf("FullGraph: %v", err)
	}
	if len(g.Entities) != 1 || g.Entities[0].MentionCount != 2 {
		t.Errorf("graph = %+v", g)
	}
}

func TestDocumentSubgraph_UnknownDocument(t *testing.T) {
	svc := New(&mockRepo{}, &mockDocs{err: domain.ErrDocumentNotFound})

	_, err := svc.DocumentSubgraph(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("error = %v, want ErrDocumentNotFound", err)
	}
}

func TestEntityDetail_NotFound(t *testing.T) {
	svc := New(&mockRepo{detailErr: domain.ErrEntityNotFound}, &mockDocs{})

	_, err := svc.EntityDetail(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("error = %v, want ErrEntityNotFound", err)
	}
}
