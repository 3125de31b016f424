// Package ingest drives the ingestion pipeline: normalize, persist, chunk,
// summarize, extract, embed, and link, reporting progress as an ordered
// event stream.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/noesis/internal/chunker"
	"github.com/kailas-cloud/noesis/internal/domain"
	"github.com/kailas-cloud/noesis/internal/metrics"
)

// eventBuffer is sized above the maximum number of events one pipeline run
// can emit, so a consumer that stops reading never blocks the pipeline.
const eventBuffer = 32

// Request is one ingestion request: a URL, or a (title, content) note.
type Request struct {
	URL     string
	Title   string
	Content string
}

// Config holds pipeline tuning knobs.
type Config struct {
	EmbedBatchSize     int
	EmbedWorkers       int
	EnrichmentMaxChars int
	CallTimeout        time.Duration
}

// Service is the ingestion orchestrator.
type Service struct {
	normalizer Normalizer
	chunker    Chunker
	enricher   Enricher
	embedder   domain.Embedder
	docs       DocumentStore
	graph      GraphStore
	pool       *ants.Pool
	cfg        Config
	logger     *zap.Logger
}

// New creates the orchestrator. The ants pool bounds embedding batch
// concurrency; EmbedWorkers = 1 keeps batches sequential.
func New(
	normalizer Normalizer, chk Chunker, enricher Enricher, embedder domain.Embedder,
	docs DocumentStore, graph GraphStore, cfg Config, logger *zap.Logger,
) (*Service, error) {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 10
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = 1
	}
	if cfg.EnrichmentMaxChars <= 0 {
		cfg.EnrichmentMaxChars = 8000
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}

	pool, err := ants.NewPool(cfg.EmbedWorkers)
	if err != nil {
		return nil, fmt.Errorf("create embed pool: %w", err)
	}

	return &Service{
		normalizer: normalizer,
		chunker:    chk,
		enricher:   enricher,
		embedder:   embedder,
		docs:       docs,
		graph:      graph,
		pool:       pool,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Close releases the embedding worker pool.
func (s *Service) Close() {
	s.pool.Release()
}

// Ingest starts the pipeline and returns its progress stream. The pipeline
// runs on a detached context and always runs to completion: an abandoned
// consumer never leaves persisted state half-applied. The channel is closed
// after the terminal event.
func (s *Service) Ingest(ctx context.Context, req Request) <-chan domain.ProgressEvent {
	events := make(chan domain.ProgressEvent, eventBuffer)
	go s.run(context.WithoutCancel(ctx), req, events)
	return events
}

func (s *Service) run(ctx context.Context, req Request, events chan<- domain.ProgressEvent) {
	defer close(events)

	emit := func(e domain.ProgressEvent) {
		// Buffered above the maximum event count; see eventBuffer.
		events <- e
	}

	fail := func(docID string, stage string, err error) {
		s.logger.Error("ingestion failed", zap.String("stage", stage), zap.Error(err))
		metrics.IngestStagesTotal.WithLabelValues(stage, "error").Inc()
		metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()
		if docID != "" {
			if serr := s.docs.SetStatus(ctx, docID, domain.StatusFailed); serr != nil {
				s.logger.Error("mark document failed", zap.String("document_id", docID), zap.Error(serr))
			}
		}
		emit(domain.ProgressEvent{
			Step: domain.StepError, Message: err.Error(), Progress: 100, Err: true, DocumentID: docID,
		})
	}

	// Fetching. The only fatal failures from here on are normalization and
	// storage; every enrichment failure degrades instead.
	emit(domain.ProgressEvent{Step: domain.StepFetching, Message: "Fetching content", Progress: 5})
	content, err := s.normalize(ctx, req)
	if err != nil {
		fail("", domain.StepFetching, err)
		return
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:        uuid.NewString(),
		SourceURL: req.URL,
		Title:     content.Title,
		Kind:      content.Kind,
		Content:   content.Content,
		Status:    domain.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	emit(domain.ProgressEvent{Step: domain.StepSaving, Message: "Saving document", Progress: 15, DocumentID: doc.ID})
	if err := s.docs.Create(ctx, &doc); err != nil {
		fail("", domain.StepSaving, err)
		return
	}

	emit(domain.ProgressEvent{Step: domain.StepChunking, Message: "Splitting into chunks", Progress: 30, DocumentID: doc.ID})
	chunks := chunker.ToChunks(doc.ID, s.chunker.Chunk(content.Content))
	for i := range chunks {
		chunks[i].ID = uuid.NewString()
	}
	if err := s.docs.InsertChunks(ctx, chunks); err != nil {
		fail(doc.ID, domain.StepChunking, err)
		return
	}

	capped := capText(content.Content, s.cfg.EnrichmentMaxChars)

	emit(domain.ProgressEvent{Step: domain.StepSummarizing, Message: "Summarizing", Progress: 45, DocumentID: doc.ID})
	if summary, ok := s.summarize(ctx, capped, emit, doc.ID); ok {
		if err := s.docs.SetSummary(ctx, doc.ID, summary); err != nil {
			fail(doc.ID, domain.StepSummarizing, err)
			return
		}
	}

	emit(domain.ProgressEvent{Step: domain.StepExtracting, Message: "Extracting entities", Progress: 60, DocumentID: doc.ID})
	extraction := s.extract(ctx, capped, emit, doc.ID)

	emit(domain.ProgressEvent{Step: domain.StepEmbedding, Message: "Embedding chunks", Progress: 75, DocumentID: doc.ID})
	if err := s.embedChunks(ctx, chunks, emit, doc.ID); err != nil {
		fail(doc.ID, domain.StepEmbedding, err)
		return
	}

	emit(domain.ProgressEvent{Step: domain.StepSaving, Message: "Saving entities", Progress: 85, DocumentID: doc.ID})
	entityIDs, err := s.saveEntities(ctx, doc.ID, extraction.Entities, emit)
	if err != nil {
		fail(doc.ID, domain.StepSaving, err)
		return
	}

	emit(domain.ProgressEvent{Step: domain.StepSaving, Message: "Saving relationships", Progress: 92, DocumentID: doc.ID})
	if err := s.saveRelationships(ctx, doc.ID, extraction.Relationships, entityIDs); err != nil {
		fail(doc.ID, domain.StepSaving, err)
		return
	}

	if err := s.docs.SetStatus(ctx, doc.ID, domain.StatusCompleted); err != nil {
		fail(doc.ID, domain.StepSaving, err)
		return
	}

	metrics.IngestDocumentsTotal.WithLabelValues("completed").Inc()
	emit(domain.ProgressEvent{Step: domain.StepComplete, Message: "Ingestion complete", Progress: 100, DocumentID: doc.ID})
}

// normalize resolves the request into persisted-ready content. URL requests
// go through the normalizer; text requests are taken as notes.
func (s *Service) normalize(ctx context.Context, req Request) (domain.NormalizedContent, error) {
	if req.URL != "" {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		return s.normalizer.Normalize(callCtx, req.URL)
	}

	if strings.TrimSpace(req.Content) == "" {
		return domain.NormalizedContent{}, fmt.Errorf("%w: empty note content", domain.ErrContentUnavailable)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled note"
	}
	return domain.NormalizedContent{Title: title, Content: req.Content, Kind: domain.KindNote}, nil
}

func (s *Service) summarize(
	ctx context.Context, text string, emit func(domain.ProgressEvent), docID string,
) (string, bool) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	summary, err := s.enricher.Summarize(callCtx, text)
	if err != nil {
		s.logger.Warn("summarization degraded", zap.String("document_id", docID), zap.Error(err))
		metrics.IngestStagesTotal.WithLabelValues(domain.StepSummarizing, "degraded").Inc()
		emit(domain.ProgressEvent{
			Step: domain.StepSummarizing, Message: "Summarization unavailable, continuing without summary",
			Progress: 45, DocumentID: docID,
		})
		return "", false
	}
	metrics.IngestStagesTotal.WithLabelValues(domain.StepSummarizing, "ok").Inc()
	return summary, true
}

func (s *Service) extract(
	ctx context.Context, text string, emit func(domain.ProgressEvent), docID string,
) domain.Extraction {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	extraction, err := s.enricher.Extract(callCtx, text)
	if err != nil {
		s.logger.Warn("extraction degraded", zap.String("document_id", docID), zap.Error(err))
		metrics.IngestStagesTotal.WithLabelValues(domain.StepExtracting, "degraded").Inc()
		emit(domain.ProgressEvent{
			Step: domain.StepExtracting, Message: "Entity extraction unavailable, continuing without entities",
			Progress: 60, DocumentID: docID,
		})
		return domain.Extraction{}
	}
	metrics.IngestStagesTotal.WithLabelValues(domain.StepExtracting, "ok").Inc()
	return extraction
}

// embedChunks embeds chunks in fixed-size batches on the worker pool. The
// first failed batch stops further batches; chunks from failed or skipped
// batches keep a null embedding and stay reachable by lexical search.
// Only storage failures are returned.
func (s *Service) embedChunks(
	ctx context.Context, chunks []domain.Chunk, emit func(domain.ProgressEvent), docID string,
) error {
	if len(chunks) == 0 {
		return nil
	}

	type batch struct {
		ids     []string
		texts   []string
		vectors [][]float32
		err     error
		skipped bool
	}

	var batches []*batch
	for start := 0; start < len(chunks); start += s.cfg.EmbedBatchSize {
		end := min(start+s.cfg.EmbedBatchSize, len(chunks))
		b := &batch{}
		for _, c := range chunks[start:end] {
			b.ids = append(b.ids, c.ID)
			b.texts = append(b.texts, c.Text)
		}
		batches = append(batches, b)
	}

	var wg sync.WaitGroup
	var failed atomic.Bool
	for _, b := range batches {
		wg.Add(1)
		b := b
		if err := s.pool.Submit(func() {
			defer wg.Done()
			if failed.Load() {
				b.skipped = true
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
			defer cancel()
			b.vectors, b.err = s.embedder.EmbedBatch(callCtx, b.texts)
			if b.err != nil {
				failed.Store(true)
			}
		}); err != nil {
			wg.Done()
			b.err = err
			failed.Store(true)
		}
	}
	wg.Wait()

	embedded := 0
	for _, b := range batches {
		if b.err != nil || b.skipped {
			continue
		}
		if err := s.docs.SetChunkEmbeddings(ctx, b.ids, b.vectors); err != nil {
			return fmt.Errorf("persist chunk embeddings: %w", err)
		}
		embedded += len(b.ids)
	}

	if failed.Load() {
		s.logger.Warn("chunk embedding degraded",
			zap.String("document_id", docID),
			zap.Int("embedded", embedded), zap.Int("total", len(chunks)))
		metrics.IngestStagesTotal.WithLabelValues(domain.StepEmbedding, "degraded").Inc()
		emit(domain.ProgressEvent{
			Step:     domain.StepEmbedding,
			Message:  fmt.Sprintf("Embedding unavailable, %d of %d chunks embedded", embedded, len(chunks)),
			Progress: 75, DocumentID: docID,
		})
		return nil
	}

	metrics.IngestStagesTotal.WithLabelValues(domain.StepEmbedding, "ok").Inc()
	return nil
}

// saveEntities deduplicates extracted entities against stored ones, embeds
// only the ones needing creation, persists them, and records one mention per
// extracted entity. Returns extracted-name to stored-id resolution.
func (s *Service) saveEntities(
	ctx context.Context, docID string, extracted []domain.ExtractedEntity, emit func(domain.ProgressEvent),
) (map[string]string, error) {
	ids := make(map[string]string, len(extracted))

	var staged []domain.ExtractedEntity
	for _, e := range extracted {
		if _, dup := ids[e.Name]; dup {
			continue
		}
		existing, err := s.graph.FindEntity(ctx, e.Name, e.Type)
		if err == nil {
			ids[e.Name] = existing.ID
			continue
		}
		if !isNotFound(err) {
			return nil, fmt.Errorf("look up entity %q: %w", e.Name, err)
		}
		ids[e.Name] = "" // placeholder, filled after creation
		staged = append(staged, e)
	}

	vectors := s.embedEntities(ctx, docID, staged, emit)

	for i, e := range staged {
		entity := domain.Entity{
			ID:          uuid.NewString(),
			Name:        e.Name,
			Type:        e.Type,
			Description: e.Description,
			CreatedAt:   time.Now().UTC(),
		}
		if vectors != nil {
			entity.Embedding = vectors[i]
		}
		// The store resolves concurrent creations of the same (name, type)
		// to a single row.
		stored, err := s.graph.CreateEntity(ctx, entity)
		if err != nil {
			return nil, fmt.Errorf("create entity %q: %w", e.Name, err)
		}
		ids[e.Name] = stored.ID
	}

	for name, id := range ids {
		if id == "" {
			delete(ids, name)
			continue
		}
		mention := domain.Mention{
			ID:         uuid.NewString(),
			EntityID:   id,
			DocumentID: docID,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.graph.CreateMention(ctx, mention); err != nil {
			return nil, fmt.Errorf("create mention for %q: %w", name, err)
		}
	}

	return ids, nil
}

// embedEntities embeds staged entities in one batch. Failure degrades to nil
// vectors; entities are still created, findable by name.
func (s *Service) embedEntities(
	ctx context.Context, docID string, staged []domain.ExtractedEntity, emit func(domain.ProgressEvent),
) [][]float32 {
	if len(staged) == 0 {
		return nil
	}
	texts := make([]string, len(staged))
	for i, e := range staged {
		texts[i] = strings.TrimSpace(e.Name + ". " + e.Description)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	vectors, err := s.embedder.EmbedBatch(callCtx, texts)
	if err != nil {
		s.logger.Warn("entity embedding degraded", zap.String("document_id", docID), zap.Error(err))
		emit(domain.ProgressEvent{
			Step: domain.StepSaving, Message: "Entity embedding unavailable, saving entities without vectors",
			Progress: 85, DocumentID: docID,
		})
		return nil
	}
	return vectors
}

// saveRelationships persists edges whose both endpoints resolved to stored
// entities; unresolved endpoints skip the edge silently.
func (s *Service) saveRelationships(
	ctx context.Context, docID string, rels []domain.ExtractedRelationship, entityIDs map[string]string,
) error {
	for _, rel := range rels {
		sourceID, okS := entityIDs[rel.Source]
		targetID, okT := entityIDs[rel.Target]
		if !okS || !okT {
			s.logger.Debug("skipping relationship with unresolved endpoint",
				zap.String("source", rel.Source), zap.String("target", rel.Target))
			continue
		}
		err := s.graph.CreateRelationship(ctx, domain.Relationship{
			ID:             uuid.NewString(),
			SourceEntityID: sourceID,
			TargetEntityID: targetID,
			Type:           rel.Type,
			Description:    rel.Description,
			DocumentID:     docID,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("create relationship %s -> %s: %w", rel.Source, rel.Target, err)
		}
	}
	return nil
}

func capText(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrEntityNotFound) || errors.Is(err, domain.ErrNotFound)
}
