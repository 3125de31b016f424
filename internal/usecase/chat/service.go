// Package chat runs chat turns: thread resolution, scope-biased retrieval,
// grounded prompt composition, streamed generation, and best-effort
// persistence of the exchange with provenance.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/noesis/internal/domain"
	"github.com/kailas-cloud/noesis/internal/usecase/retrieval"
)

// titleMaxChars bounds the truncation-based thread title fallback.
const titleMaxChars = 60

const systemPromptHeader = `You are a personal knowledge assistant. Answer using the knowledge base ` +
	`context below. Prefer the context over your general knowledge. Cite the source documents you ` +
	`draw from by title. If the context is insufficient to answer, state your uncertainty plainly ` +
	`instead of guessing.`

// Result is the outcome of one chat turn.
type Result struct {
	ThreadID      string
	ThreadCreated bool
	Answer        string
	Provenance    domain.Provenance
}

// Service is the chat turn controller.
type Service struct {
	threads   ThreadStore
	retriever Retriever
	generator Generator
	entities  EntityReader
	documents DocumentReader
	logger    *zap.Logger

	// persistWG tracks best-effort writes so tests can wait for them.
	persistWG sync.WaitGroup
}

// New creates a chat service.
func New(threads ThreadStore, retriever Retriever, generator Generator,
	entities EntityReader, documents DocumentReader, logger *zap.Logger,
) *Service {
	return &Service{
		threads:   threads,
		retriever: retriever,
		generator: generator,
		entities:  entities,
		documents: documents,
		logger:    logger,
	}
}

// CreateThread validates and persists a new scoped thread. The scope is fixed
// for the thread's lifetime. Nothing is written when validation fails.
func (s *Service) CreateThread(
	ctx context.Context, category domain.ThreadCategory, entityID, documentID, title string,
) (domain.Thread, error) {
	scope, err := domain.ParseScope(category, entityID, documentID)
	if err != nil {
		return domain.Thread{}, err
	}

	switch scope.Category() {
	case domain.CategoryEntity:
		if _, err := s.entities.GetEntity(ctx, scope.EntityID()); err != nil {
			return domain.Thread{}, fmt.Errorf("scope entity: %w", err)
		}
	case domain.CategoryDocument:
		if _, err := s.documents.Get(ctx, scope.DocumentID()); err != nil {
			return domain.Thread{}, fmt.Errorf("scope document: %w", err)
		}
	}

	now := time.Now().UTC()
	thread := domain.Thread{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		Scope:     scope,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.threads.CreateThread(ctx, &thread); err != nil {
		return domain.Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

// ListThreads returns all threads, most recently active first.
func (s *Service) ListThreads(ctx context.Context) ([]domain.Thread, error) {
	return s.threads.ListThreads(ctx)
}

// Messages returns a thread's history.
func (s *Service) Messages(ctx context.Context, threadID string) ([]domain.Message, error) {
	if _, err := s.threads.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	return s.threads.ListMessages(ctx, threadID)
}

// Turn runs one chat turn. messages is the conversation so far, ending with
// the user's new message. onThread fires once the thread is resolved, before
// any delta, so callers can announce the thread id ahead of the stream;
// deltas then flow through onDelta. Persistence of the exchange is
// best-effort: once generation has been delivered, storage failures are
// logged, never surfaced.
func (s *Service) Turn(
	ctx context.Context, threadID string, messages []domain.PromptMessage,
	onThread func(threadID string, created bool), onDelta func(delta string) error,
) (Result, error) {
	userText, err := lastUserMessage(messages)
	if err != nil {
		return Result{}, err
	}

	thread, created, err := s.resolveThread(ctx, threadID, userText)
	if err != nil {
		return Result{}, err
	}
	if onThread != nil {
		onThread(thread.ID, created)
	}

	// Grounding is resolved before generation starts; the two never overlap.
	retrieved := s.retriever.BuildContext(ctx, retrieval.Query{
		Text:            userText,
		FocusEntityID:   thread.Scope.EntityID(),
		FocusDocumentID: thread.Scope.DocumentID(),
	})

	// The user message write runs concurrently with generation delivery.
	userMsg := domain.Message{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		Role:      domain.RoleUser,
		Content:   userText,
		CreatedAt: time.Now().UTC(),
	}
	userSaved := make(chan struct{})
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		defer close(userSaved)
		if err := s.threads.CreateMessage(context.WithoutCancel(ctx), &userMsg); err != nil {
			s.logger.Error("persist user message", zap.String("thread_id", thread.ID), zap.Error(err))
		}
	}()

	prompt := append([]domain.PromptMessage{{
		Role:    domain.PromptRoleSystem,
		Content: composeSystemPrompt(retrieved),
	}}, messages...)

	answer, err := s.generator.StreamChat(ctx, prompt, onDelta)
	if err != nil && answer == "" {
		<-userSaved
		return Result{}, fmt.Errorf("generate answer: %w", err)
	}
	if err != nil {
		s.logger.Warn("generation ended early", zap.String("thread_id", thread.ID), zap.Error(err))
	}

	provenance := buildProvenance(retrieved)
	s.persistWG.Add(1)
	go func(answer string, provenance domain.Provenance) {
		defer s.persistWG.Done()
		<-userSaved // user message first; keeps chronological order stable
		msg := domain.Message{
			ID:         uuid.NewString(),
			ThreadID:   thread.ID,
			Role:       domain.RoleAssistant,
			Content:    answer,
			Provenance: &provenance,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.threads.CreateMessage(context.WithoutCancel(ctx), &msg); err != nil {
			s.logger.Error("persist assistant message", zap.String("thread_id", thread.ID), zap.Error(err))
		}
	}(answer, provenance)

	if created {
		s.improveTitle(context.WithoutCancel(ctx), thread.ID, userText)
	}

	return Result{
		ThreadID:      thread.ID,
		ThreadCreated: created,
		Answer:        answer,
		Provenance:    provenance,
	}, nil
}

// Wait blocks until outstanding best-effort writes finish.
func (s *Service) Wait() {
	s.persistWG.Wait()
}

// resolveThread loads the addressed thread, or creates an unscoped one titled
// by truncating the user's text (the guaranteed title fallback).
func (s *Service) resolveThread(ctx context.Context, threadID, userText string) (domain.Thread, bool, error) {
	if threadID != "" {
		thread, err := s.threads.GetThread(ctx, threadID)
		if err != nil {
			return domain.Thread{}, false, err
		}
		return thread, false, nil
	}

	now := time.Now().UTC()
	thread := domain.Thread{
		ID:        uuid.NewString(),
		Title:     truncateTitle(userText),
		Scope:     domain.NewGeneralScope(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.threads.CreateThread(ctx, &thread); err != nil {
		return domain.Thread{}, false, fmt.Errorf("create thread: %w", err)
	}
	return thread, true, nil
}

// improveTitle tries to replace the truncation title with a generated one.
// The fallback stays on any failure.
func (s *Service) improveTitle(ctx context.Context, threadID, userText string) {
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		title, err := s.generator.SuggestTitle(ctx, userText)
		if err != nil || strings.TrimSpace(title) == "" {
			s.logger.Warn("title generation unavailable, keeping truncated title",
				zap.String("thread_id", threadID), zap.Error(err))
			return
		}
		if err := s.threads.SetThreadTitle(ctx, threadID, truncateTitle(title)); err != nil {
			s.logger.Error("set thread title", zap.String("thread_id", threadID), zap.Error(err))
		}
	}()
}

func lastUserMessage(messages []domain.PromptMessage) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: empty message list", domain.ErrInvalidInput)
	}
	last := messages[len(messages)-1]
	if last.Role != domain.PromptRoleUser || strings.TrimSpace(last.Content) == "" {
		return "", fmt.Errorf("%w: last message must be a non-empty user message", domain.ErrInvalidInput)
	}
	return last.Content, nil
}

// composeSystemPrompt embeds the retrieved context verbatim under the
// grounding instructions.
func composeSystemPrompt(retrieved domain.RetrievalContext) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)

	if retrieved.Empty() {
		b.WriteString("\n\nThe knowledge base returned no context for this question.")
		return b.String()
	}

	if len(retrieved.Chunks) > 0 {
		b.WriteString("\n\n## Knowledge base excerpts\n")
		for _, c := range retrieved.Chunks {
			fmt.Fprintf(&b, "\n[Source: %s]\n%s\n", c.DocumentTitle, c.Text)
		}
	}
	if len(retrieved.Entities) > 0 {
		b.WriteString("\n## Known entities\n")
		for _, e := range retrieved.Entities {
			fmt.Fprintf(&b, "- %s (%s)", e.Name, e.Type)
			if e.Description != "" {
				fmt.Fprintf(&b, ": %s", e.Description)
			}
			b.WriteString("\n")
		}
	}
	if retrieved.Narrative != "" {
		b.WriteString("\n## Entity relationships\n")
		b.WriteString(retrieved.Narrative)
		b.WriteString("\n")
	}
	return b.String()
}

func buildProvenance(retrieved domain.RetrievalContext) domain.Provenance {
	var p domain.Provenance
	for _, c := range retrieved.Chunks {
		p.Chunks = append(p.Chunks, domain.ChunkRef{
			ChunkID:       c.ChunkID,
			DocumentID:    c.DocumentID,
			DocumentTitle: c.DocumentTitle,
			Score:         c.Score,
		})
	}
	for _, e := range retrieved.Entities {
		p.Entities = append(p.Entities, e.Name)
	}
	return p
}

// truncateTitle derives a short single-line title from free text.
func truncateTitle(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	runes := []rune(text)
	if len(runes) > titleMaxChars {
		text = strings.TrimSpace(string(runes[:titleMaxChars])) + "..."
	}
	return text
}
