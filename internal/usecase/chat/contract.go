package chat

import (
	"context"

	"github.com/kailas-cloud/noesis/internal/domain"
	"github.com/kailas-cloud/noesis/internal/usecase/retrieval"
)

// Retriever builds grounding context for a query.
type Retriever interface {
	BuildContext(ctx context.Context, q retrieval.Query) domain.RetrievalContext
}

// Generator produces chat completions and short titles.
type Generator interface {
	StreamChat(ctx context.Context, messages []domain.PromptMessage, onDelta func(delta string) error) (string, error)
	SuggestTitle(ctx context.Context, firstMessage string) (string, error)
}

// ThreadStore persists threads and messages.
type ThreadStore interface {
	CreateThread(ctx context.Context, t *domain.Thread) error
	GetThread(ctx context.Context, id string) (domain.Thread, error)
	ListThreads(ctx context.Context) ([]domain.Thread, error)
	SetThreadTitle(ctx context.Context, id, title string) error
	CreateMessage(ctx context.Context, m *domain.Message) error
	ListMessages(ctx context.Context, threadID string) ([]domain.Message, error)
}

// EntityReader checks scope targets exist.
type EntityReader interface {
	GetEntity(ctx context.Context, id string) (domain.Entity, error)
}

// DocumentReader checks scope targets exist.
type DocumentReader interface {
	Get(ctx context.Context, id string) (domain.Document, error)
}
