package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/noesis/internal/domain"
	"github.com/kailas-cloud/noesis/internal/usecase/retrieval"
)

// --- Mocks ---

type mockThreadStore struct {
	mu       sync.Mutex
	threads  map[string]domain.Thread
	messages []domain.Message
	titles   map[string]string
	msgErr   error
}

func newMockThreadStore() *mockThreadStore {
	return &mockThreadStore{
		threads: map[string]domain.Thread{},
		titles:  map[string]string{},
	}
}

func (m *mockThreadStore) CreateThread(_ context.Context, t *domain.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[t.ID] = *t
	return nil
}

func (m *mockThreadStore) GetThread(_ context.Context, id string) (domain.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[id]; ok {
		return t, nil
	}
	return domain.Thread{}, domain.ErrThreadNotFound
}

func (m *mockThreadStore) ListThreads(_ context.Context) ([]domain.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Thread, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockThreadStore) SetThreadTitle(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles[id] = title
	return nil
}

func (m *mockThreadStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.msgErr != nil {
		return m.msgErr
	}
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *mockThreadStore) ListMessages(_ context.Context, threadID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type mockRetriever struct {
	result    domain.RetrievalContext
	lastQuery retrieval.Query
}

func (m *mockRetriever) BuildContext(_ context.Context, q retrieval.Query) domain.RetrievalContext {
	m.lastQuery = q
	return m.result
}

type mockGenerator struct {
	answer    string
	streamErr error
	title     string
	titleErr  error
	prompt    []domain.PromptMessage
}

func (m *mockGenerator) StreamChat(
	_ context.Context, messages []domain.PromptMessage, onDelta func(string) error,
) (string, error) {
	m.prompt = messages
	if m.streamErr != nil {
		return "", m.streamErr
	}
	if onDelta != nil {
		for _, part := range strings.SplitAfter(m.answer, " ") {
			if err := onDelta(part); err != nil {
				break
			}
		}
	}
	return m.answer, nil
}

func (m *mockGenerator) SuggestTitle(_ context.Context, _ string) (string, error) {
	return m.title, m.titleErr
}

type mockEntityReader struct {
	entities map[string]domain.Entity
}

func (m *mockEntityReader) GetEntity(_ context.Context, id string) (domain.Entity, error) {
	if e, ok := m.entities[id]; ok {
		return e, nil
	}
	return domain.Entity{}, domain.ErrEntityNotFound
}

type mockDocReader struct {
	docs map[string]domain.Document
}

func (m *mockDocReader) Get(_ context.Context, id string) (domain.Document, error) {
	if d, ok := m.docs[id]; ok {
		return d, nil
	}
	return domain.Document{}, domain.ErrDocumentNotFound
}

func newService(store *mockThreadStore, retriever *mockRetriever, gen *mockGenerator) *Service {
	return New(store, retriever, gen,
		&mockEntityReader{entities: map[string]domain.Entity{"e1": {ID: "e1", Name: "Alice"}}},
		&mockDocReader{docs: map[string]domain.Document{"d1": {ID: "d1", Title: "Doc"}}},
		zap.NewNop())
}

func userTurn(text string) []domain.PromptMessage {
	return []domain.PromptMessage{{Role: domain.PromptRoleUser, Content: text}}
}

// --- Tests ---

func TestCreateThread_Validation(t *testing.T) {
	svc := newService(newMockThreadStore(), &mockRetriever{}, &mockGenerator{})

	tests := []struct {
		name     string
		category domain.ThreadCategory
		entityID string
		docID    string
		wantErr  error
	}{
		{"general ok", domain.CategoryGeneral, "", "", nil},
		{"entity ok", domain.CategoryEntity, "e1", "", nil},
		{"document ok", domain.CategoryDocument, "", "d1", nil},
		{"entity without id", domain.CategoryEntity, "", "", domain.ErrInvalidInput},
		{"document without id", domain.CategoryDocument, "", "", domain.ErrInvalidInput},
		{"unknown category", domain.ThreadCategory("project"), "", "", domain.ErrInvalidInput},
		{"missing entity", domain.CategoryEntity, "ghost", "", domain.ErrEntityNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateThread(context.Background(), tt.category, tt.entityID, tt.docID, "t")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateThread_NoRowOnValidationFailure(t *testing.T) {
	store := newMockThreadStore()
	svc := newService(store, &mockRetriever{}, &mockGenerator{})

	_, err := svc.CreateThread(context.Background(), domain.CategoryEntity, "", "", "t")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	if len(store.threads) != 0 {
		t.Error("thread persisted despite validation failure")
	}
}

func TestTurn_CreatesThreadAndPersistsExchange(t *testing.T) {
	store := newMockThreadStore()
	retriever := &mockRetriever{result: domain.RetrievalContext{
		Chunks:   []domain.ChunkMatch{{ChunkID: "c1", DocumentID: "d1", DocumentTitle: "Doc", Text: "ctx", Score: 0.9}},
		Entities: []domain.Entity{{ID: "e1", Name: "Alice"}},
	}}
	gen := &mockGenerator{answer: "Grounded answer.", title: "Short Title"}
	svc := newService(store, retriever, gen)

	var streamed strings.Builder
	var threadIDSeen string
	res, err := svc.Turn(context.Background(), "", userTurn("tell me about Alice"),
		func(id string, created bool) { threadIDSeen = id },
		func(d string) error {
			streamed.WriteString(d)
			return nil
		})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	svc.Wait()

	if !res.ThreadCreated || res.ThreadID == "" {
		t.Fatalf("result = %+v, want a created thread", res)
	}
	if threadIDSeen != res.ThreadID {
		t.Errorf("onThread saw %q, want %q", threadIDSeen, res.ThreadID)
	}
	if streamed.String() != "Grounded answer." {
		t.Errorf("streamed %q, want full answer", streamed.String())
	}
	if len(store.messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(store.messages))
	}
	if store.messages[0].Role != domain.RoleUser || store.messages[1].Role != domain.RoleAssistant {
		t.Errorf("message roles = %s, %s", store.messages[0].Role, store.messages[1].Role)
	}
	prov := store.messages[1].Provenance
	if prov == nil || len(prov.Chunks) != 1 || prov.Chunks[0].ChunkID != "c1" {
		t.Errorf("provenance = %+v, want chunk c1", prov)
	}
	if len(prov.Entities) != 1 || prov.Entities[0] != "Alice" {
		t.Errorf("provenance entities = %v, want [Alice]", prov.Entities)
	}
	if store.titles[res.ThreadID] != "Short Title" {
		t.Errorf("title = %q, want generated title", store.titles[res.ThreadID])
	}
}

func TestTurn_SystemPromptEmbedsContext(t *testing.T) {
	retriever := &mockRetriever{result: domain.RetrievalContext{
		Chunks:    []domain.ChunkMatch{{DocumentTitle: "Doc", Text: "verbatim chunk text"}},
		Narrative: "Alice -[works_at]-> Acme",
	}}
	gen := &mockGenerator{answer: "ok"}
	svc := newService(newMockThreadStore(), retriever, gen)

	if _, err := svc.Turn(context.Background(), "", userTurn("q"), nil, nil); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	svc.Wait()

	if len(gen.prompt) < 2 || gen.prompt[0].Role != domain.PromptRoleSystem {
		t.Fatalf("prompt = %+v, want system message first", gen.prompt)
	}
	sys := gen.prompt[0].Content
	for _, want := range []string{"verbatim chunk text", "Alice -[works_at]-> Acme", "cite", "uncertain"} {
		if !strings.Contains(strings.ToLower(sys), strings.ToLower(want)) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestTurn_ScopeBiasFromThread(t *testing.T) {
	store := newMockThreadStore()
	scope, _ := domain.NewEntityScope("e1")
	store.threads["t1"] = domain.Thread{ID: "t1", Title: "x", Scope: scope}
	retriever := &mockRetriever{}
	svc := newService(store, retriever, &mockGenerator{answer: "ok"})

	res, err := svc.Turn(context.Background(), "t1", userTurn("q"), nil, nil)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	svc.Wait()

	if res.ThreadCreated {
		t.Error("existing thread reported as created")
	}
	if retriever.lastQuery.FocusEntityID != "e1" {
		t.Errorf("focus entity = %q, want e1", retriever.lastQuery.FocusEntityID)
	}
}

func TestTurn_TitleFallbackOnGenerationFailure(t *testing.T) {
	store := newMockThreadStore()
	gen := &mockGenerator{answer: "ok", titleErr: errors.New("down")}
	svc := newService(store, &mockRetriever{}, gen)

	long := strings.Repeat("word ", 30)
	res, err := svc.Turn(context.Background(), "", userTurn(long), nil, nil)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	svc.Wait()

	thread := store.threads[res.ThreadID]
	if len(thread.Title) > titleMaxChars+3 {
		t.Errorf("fallback title too long: %q", thread.Title)
	}
	if _, improved := store.titles[res.ThreadID]; improved {
		t.Error("title replaced despite generation failure")
	}
}

func TestTurn_GenerationFailureSurfaces(t *testing.T) {
	gen := &mockGenerator{streamErr: domain.ErrEnrichmentUnavailable}
	svc := newService(newMockThreadStore(), &mockRetriever{}, gen)

	_, err := svc.Turn(context.Background(), "", userTurn("q"), nil, nil)
	if !errors.Is(err, domain.ErrEnrichmentUnavailable) {
		t.Fatalf("error = %v, want ErrEnrichmentUnavailable", err)
	}
}

func TestTurn_PersistenceFailureDoesNotFailTurn(t *testing.T) {
	store := newMockThreadStore()
	store.msgErr = errors.New("disk full")
	svc := newService(store, &mockRetriever{}, &mockGenerator{answer: "ok"})

	res, err := svc.Turn(context.Background(), "", userTurn("q"), nil, nil)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	svc.Wait()
	if res.Answer != "ok" {
		t.Errorf("answer = %q, want ok", res.Answer)
	}
}

func TestTurn_UnknownThread(t *testing.T) {
	svc := newService(newMockThreadStore(), &mockRetriever{}, &mockGenerator{})

	_, err := svc.Turn(context.Background(), "ghost", userTurn("q"), nil, nil)
	if !errors.Is(err, domain.ErrThreadNotFound) {
		t.Fatalf("error = %v, want ErrThreadNotFound", err)
	}
}

func TestTurn_RejectsNonUserFinalMessage(t *testing.T) {
	svc := newService(newMockThreadStore(), &mockRetriever{}, &mockGenerator{})

	_, err := svc.Turn(context.Background(), "", []domain.PromptMessage{
		{Role: domain.PromptRoleAssistant, Content: "hi"},
	}, nil, nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}
