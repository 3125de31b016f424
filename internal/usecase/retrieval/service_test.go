package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// --- Mocks ---

type mockChunks struct {
	vector     []domain.ChunkMatch
	vectorErr  error
	lexical    []domain.ChunkMatch
	lexicalErr error
}

func (m *mockChunks) SearchVector(_ context.Context, _ []float32, _ int) ([]domain.ChunkMatch, error) {
	return m.vector, m.vectorErr
}

func (m *mockChunks) SearchLexical(_ context.Context, _ string, _ int) ([]domain.ChunkMatch, error) {
	return m.lexical, m.lexicalErr
}

type mockEntities struct {
	byID      map[string]domain.Entity
	details   map[string]domain.EntityDetail
	vector    []domain.Entity
	vectorErr error
	byName    []domain.Entity
	touching  []domain.Relationship
}

func (m *mockEntities) GetEntity(_ context.Context, id string) (domain.Entity, error) {
	if e, ok := m.byID[id]; ok {
		return e, nil
	}
	return domain.Entity{}, domain.ErrEntityNotFound
}

func (m *mockEntities) EntityDetail(_ context.Context, id string) (domain.EntityDetail, error) {
	if d, ok := m.details[id]; ok {
		return d, nil
	}
	return domain.EntityDetail{}, domain.ErrEntityNotFound
}

func (m *mockEntities) SearchVector(_ context.Context, _ []float32, _ int) ([]domain.Entity, error) {
	return m.vector, m.vectorErr
}

func (m *mockEntities) SearchName(_ context.Context, _ string, _ int) ([]domain.Entity, error) {
	return m.byName, nil
}

func (m *mockEntities) RelationshipsTouching(_ context.Context, _ []string) ([]domain.Relationship, error) {
	return m.touching, nil
}

type mockDocs struct {
	docs map[string]domain.Document
}

func (m *mockDocs) Get(_ context.Context, id string) (domain.Document, error) {
	if d, ok := m.docs[id]; ok {
		return d, nil
	}
	return domain.Document{}, domain.ErrDocumentNotFound
}

type mockEmbedder struct {
	err      error
	lastText string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.lastText = text
	if m.err != nil {
		return nil, m.err
	}
	return []float32{1, 0, 0}, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func newService(chunks *mockChunks, entities *mockEntities, docs *mockDocs, emb *mockEmbedder) *Service {
	if entities.byID == nil {
		entities.byID = map[string]domain.Entity{}
	}
	if entities.details == nil {
		entities.details = map[string]domain.EntityDetail{}
	}
	if docs == nil {
		docs = &mockDocs{}
	}
	return New(chunks, entities, docs, emb, Config{Budget: 3, MaxCandidates: 50}, zap.NewNop())
}

// --- Tests ---

func TestBuildContext_HybridFusion(t *testing.T) {
	chunks := &mockChunks{
		vector:  []domain.ChunkMatch{match("a"), match("b")},
		lexical: []domain.ChunkMatch{match("b"), match("c")},
	}
	svc := newService(chunks, &mockEntities{}, nil, &mockEmbedder{})

	got := svc.BuildContext(context.Background(), Query{Text: "query"})

	if len(got.Chunks) != 3 {
		t.Fatalf("%d chunks, want 3", len(got.Chunks))
	}
	if got.Chunks[0].ChunkID != "b" {
		t.Errorf("top chunk = %s, want b (in both rankings)", got.Chunks[0].ChunkID)
	}
}

func TestBuildContext_LexicalOnlyWhenEmbeddingUnavailable(t *testing.T) {
	chunks := &mockChunks{
		lexical: []domain.ChunkMatch{match("a")},
	}
	emb := &mockEmbedder{err: domain.ErrEnrichmentUnavailable}
	svc := newService(chunks, &mockEntities{}, nil, emb)

	got := svc.BuildContext(context.Background(), Query{Text: "query"})

	if len(got.Chunks) != 1 || got.Chunks[0].ChunkID != "a" {
		t.Fatalf("chunks = %+v, want lexical match a", got.Chunks)
	}
}

func TestBuildContext_EmptyOnTotalFailure(t *testing.T) {
	chunks := &mockChunks{
		vectorErr:  errors.New("down"),
		lexicalErr: errors.New("down"),
	}
	entities := &mockEntities{vectorErr: errors.New("down")}
	svc := newService(chunks, entities, nil, &mockEmbedder{err: errors.New("down")})

	got := svc.BuildContext(context.Background(), Query{Text: "query"})

	if !got.Empty() {
		t.Fatalf("context = %+v, want empty", got)
	}
}

func TestBuildContext_FocusDocumentSortsFirst(t *testing.T) {
	other1 := domain.ChunkMatch{ChunkID: "o1", DocumentID: "other"}
	other2 := domain.ChunkMatch{ChunkID: "o2", DocumentID: "other"}
	focus := domain.ChunkMatch{ChunkID: "f1", DocumentID: "focus-doc"}
	chunks := &mockChunks{
		// Focus chunk ranks last on raw score.
		vector: []domain.ChunkMatch{other1, other2, focus},
	}
	docs := &mockDocs{docs: map[string]domain.Document{
		"focus-doc": {ID: "focus-doc", Title: "Focus", Summary: "about things"},
	}}
	svc := newService(chunks, &mockEntities{}, docs, &mockEmbedder{})

	got := svc.BuildContext(context.Background(), Query{Text: "query", FocusDocumentID: "focus-doc"})

	if len(got.Chunks) == 0 || got.Chunks[0].ChunkID != "f1" {
		t.Fatalf("top chunk = %+v, want focus document chunk f1", got.Chunks)
	}
	if !got.Chunks[0].FocusMatch {
		t.Error("focus chunk not marked as focus match")
	}
}

func TestBuildContext_FocusAugmentsQuery(t *testing.T) {
	emb := &mockEmbedder{}
	docs := &mockDocs{docs: map[string]domain.Document{
		"d1": {ID: "d1", Title: "Quantum Computing Primer", Summary: strings.Repeat("s", 300)},
	}}
	svc := newService(&mockChunks{}, &mockEntities{}, docs, emb)

	svc.BuildContext(context.Background(), Query{Text: "how does it work", FocusDocumentID: "d1"})

	if !strings.Contains(emb.lastText, "Quantum Computing Primer") {
		t.Errorf("query %q not augmented with focus title", emb.lastText)
	}
	if len(emb.lastText) > len("how does it work")+1+len("Quantum Computing Primer")+1+descriptionCap {
		t.Errorf("augmented query not truncated: %d chars", len(emb.lastText))
	}
}

func TestBuildContext_FocusEntityForceIncluded(t *testing.T) {
	entities := &mockEntities{
		byID: map[string]domain.Entity{
			"e1": {ID: "e1", Name: "Alice"},
		},
		details: map[string]domain.EntityDetail{
			"e1": {Entity: domain.Entity{ID: "e1", Name: "Alice"}},
		},
		vector: []domain.Entity{{ID: "e2", Name: "Bob"}, {ID: "e3", Name: "Carol"}},
	}
	svc := newService(&mockChunks{}, entities, nil, &mockEmbedder{})

	got := svc.BuildContext(context.Background(), Query{Text: "query", FocusEntityID: "e1"})

	if len(got.Entities) == 0 || got.Entities[0].ID != "e1" {
		t.Fatalf("entities = %+v, want focus entity e1 first", got.Entities)
	}
}

func TestBuildContext_NarrativeFromRelationships(t *testing.T) {
	entities := &mockEntities{
		byID: map[string]domain.Entity{
			"e2": {ID: "e2", Name: "Acme"},
		},
		vector: []domain.Entity{{ID: "e1", Name: "Alice"}},
		touching: []domain.Relationship{
			{SourceEntityID: "e1", TargetEntityID: "e2", Type: "works_at", Description: "since 2020"},
		},
	}
	svc := newService(&mockChunks{}, entities, nil, &mockEmbedder{})

	got := svc.BuildContext(context.Background(), Query{Text: "query"})

	want := "Alice -[works_at]-> Acme: since 2020"
	if got.Narrative != want {
		t.Errorf("narrative = %q, want %q", got.Narrative, want)
	}
}
