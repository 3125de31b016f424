// Package chi exposes the HTTP API: NDJSON ingestion and chat streams,
// thread management, graph reads, and document management.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/noesis/internal/domain"
	chatuc "github.com/kailas-cloud/noesis/internal/usecase/chat"
	healthuc "github.com/kailas-cloud/noesis/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/noesis/internal/usecase/ingest"
)

// IngestService starts ingestion pipelines.
type IngestService interface {
	Ingest(ctx context.Context, req ingestuc.Request) <-chan domain.ProgressEvent
}

// ChatService manages threads and runs chat turns.
type ChatService interface {
	CreateThread(ctx context.Context, category domain.ThreadCategory, entityID, documentID, title string) (domain.Thread, error)
	ListThreads(ctx context.Context) ([]domain.Thread, error)
	Messages(ctx context.Context, threadID string) ([]domain.Message, error)
	Turn(ctx context.Context, threadID string, messages []domain.PromptMessage,
		onThread func(threadID string, created bool), onDelta func(delta string) error) (chatuc.Result, error)
}

// GraphService serves graph reads.
type GraphService interface {
	FullGraph(ctx context.Context) (domain.Graph, error)
	DocumentSubgraph(ctx context.Context, documentID string) (domain.Graph, error)
	EntityDetail(ctx context.Context, id string) (domain.EntityDetail, error)
}

// DocumentService serves document reads and deletion.
type DocumentService interface {
	List(ctx context.Context) ([]domain.Document, error)
	Get(ctx context.Context, id string) (domain.Document, error)
	Delete(ctx context.Context, id string) error
}

// HealthService aggregates component health.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers.
type Server struct {
	ingest        IngestService
	chat          ChatService
	graph         GraphService
	documents     DocumentService
	health        HealthService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ingest IngestService,
	chat ChatService,
	graph GraphService,
	documents DocumentService,
	health HealthService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		ingest:    ingest,
		chat:      chat,
		graph:     graph,
		documents: documents,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrThreadNotFound, http.StatusNotFound, "thread_not_found"),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, "document_not_found"),
		sentinelHandler(domain.ErrEntityNotFound, http.StatusNotFound, "entity_not_found"),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrEnrichmentUnavailable, http.StatusBadGateway, "ai_provider_unavailable"),
		sentinelHandler(domain.ErrContentUnavailable, http.StatusUnprocessableEntity, "content_unavailable"),
	}
	return s
}

// Routes mounts all API routes on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/chat", s.handleChat)

		r.Post("/threads", s.handleCreateThread)
		r.Get("/threads", s.handleListThreads)
		r.Get("/threads/{id}/messages", s.handleThreadMessages)

		r.Get("/graph", s.handleFullGraph)
		r.Get("/entities/{id}", s.handleEntityDetail)

		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/documents/{id}/graph", s.handleDocumentGraph)
	})
}

// --- Ingestion ---

type ingestRequest struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// handleIngest streams pipeline progress as NDJSON. The stream is advisory:
// if the client goes away the pipeline still runs to completion, so the
// handler keeps draining events.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	var ingReq ingestuc.Request
	switch req.Type {
	case "url":
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "validation_failed", "url is required")
			return
		}
		ingReq = ingestuc.Request{URL: req.URL}
	case "text":
		if req.Content == "" {
			writeError(w, http.StatusBadRequest, "validation_failed", "content is required")
			return
		}
		ingReq = ingestuc.Request{Title: req.Title, Content: req.Content}
	default:
		writeError(w, http.StatusBadRequest, "validation_failed", `type must be "url" or "text"`)
		return
	}

	events := s.ingest.Ingest(r.Context(), ingReq)

	stream := newNDJSONStream(w)
	for e := range events {
		_ = stream.write(progressRecord(e))
	}
}

// progressRecord maps a pipeline event to its wire form. The success
// terminal is spelled "done" on the wire.
func progressRecord(e domain.ProgressEvent) any {
	if e.Step == domain.StepComplete {
		return map[string]any{"step": "done", "documentId": e.DocumentID, "progress": e.Progress}
	}
	return e
}

// --- Chat ---

type chatRequest struct {
	ThreadID string `json:"threadId"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	messages := make([]domain.PromptMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = domain.PromptMessage{Role: m.Role, Content: m.Content}
	}

	stream := newNDJSONStream(w)
	result, err := s.chat.Turn(r.Context(), req.ThreadID, messages,
		func(threadID string, created bool) {
			if created {
				w.Header().Set("X-Thread-Id", threadID)
			}
		},
		func(delta string) error {
			return stream.write(map[string]string{"type": "delta", "content": delta})
		},
	)
	if err != nil {
		if stream.started() {
			// Headers are gone; report the failure in-stream.
			_ = stream.write(map[string]string{"type": "error", "message": safeDomainMessage(err)})
			return
		}
		s.handleDomainError(w, err)
		return
	}

	_ = stream.write(map[string]any{
		"type":       "done",
		"threadId":   result.ThreadID,
		"provenance": result.Provenance,
	})
}

// --- Threads ---

type createThreadRequest struct {
	Category   string `json:"category"`
	EntityID   string `json:"entityId"`
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	thread, err := s.chat.CreateThread(r.Context(),
		domain.ThreadCategory(req.Category), req.EntityID, req.DocumentID, req.Title)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, threadToJSON(thread))
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.chat.ListThreads(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	out := make([]threadJSON, len(threads))
	for i, t := range threads {
		out[i] = threadToJSON(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	out := make([]messageJSON, len(msgs))
	for i, m := range msgs {
		out[i] = messageToJSON(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// --- Graph ---

func (s *Server) handleFullGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.graph.FullGraph(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graphToJSON(g))
}

func (s *Server) handleDocumentGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.graph.DocumentSubgraph(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graphToJSON(g))
}

func (s *Server) handleEntityDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.graph.EntityDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entityDetailToJSON(detail))
}

// --- Documents ---

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	out := make([]documentJSON, len(docs))
	for i, d := range docs {
		out[i] = documentToJSON(d, false)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToJSON(doc, true))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.documents.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// --- Error handling ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidInput,
		domain.ErrThreadNotFound,
		domain.ErrDocumentNotFound,
		domain.ErrEntityNotFound,
		domain.ErrNotFound,
		domain.ErrEnrichmentUnavailable,
		domain.ErrContentUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

// --- Wire types ---

type threadJSON struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Category   string    `json:"category"`
	EntityID   string    `json:"entityId,omitempty"`
	DocumentID string    `json:"documentId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func threadToJSON(t domain.Thread) threadJSON {
	return threadJSON{
		ID:         t.ID,
		Title:      t.Title,
		Category:   string(t.Scope.Category()),
		EntityID:   t.Scope.EntityID(),
		DocumentID: t.Scope.DocumentID(),
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

type messageJSON struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    string             `json:"content"`
	Provenance *domain.Provenance `json:"provenance,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

func messageToJSON(m domain.Message) messageJSON {
	return messageJSON{
		ID:         m.ID,
		Role:       string(m.Role),
		Content:    m.Content,
		Provenance: m.Provenance,
		CreatedAt:  m.CreatedAt,
	}
}

type documentJSON struct {
	ID        string    `json:"id"`
	SourceURL string    `json:"sourceUrl,omitempty"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind"`
	Summary   string    `json:"summary,omitempty"`
	Content   string    `json:"content,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func documentToJSON(d domain.Document, withContent bool) documentJSON {
	out := documentJSON{
		ID:        d.ID,
		SourceURL: d.SourceURL,
		Title:     d.Title,
		Kind:      string(d.Kind),
		Summary:   d.Summary,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if withContent {
		out.Content = d.Content
	}
	return out
}

type entityJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Description  string `json:"description,omitempty"`
	MentionCount int    `json:"mentionCount,omitempty"`
}

type relationshipJSON struct {
	ID          string `json:"id"`
	SourceID    string `json:"sourceEntityId"`
	TargetID    string `json:"targetEntityId"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	DocumentID  string `json:"documentId"`
}

type graphJSON struct {
	Entities      []entityJSON       `json:"entities"`
	Relationships []relationshipJSON `json:"relationships"`
}

func graphToJSON(g domain.Graph) graphJSON {
	out := graphJSON{
		Entities:      make([]entityJSON, len(g.Entities)),
		Relationships: make([]relationshipJSON, len(g.Relationships)),
	}
	for i, e := range g.Entities {
		out.Entities[i] = entityJSON{
			ID:           e.ID,
			Name:         e.Name,
			Type:         e.Type,
			Description:  e.Description,
			MentionCount: e.MentionCount,
		}
	}
	for i, r := range g.Relationships {
		out.Relationships[i] = relationshipToJSON(r)
	}
	return out
}

func relationshipToJSON(r domain.Relationship) relationshipJSON {
	return relationshipJSON{
		ID:          r.ID,
		SourceID:    r.SourceEntityID,
		TargetID:    r.TargetEntityID,
		Type:        r.Type,
		Description: r.Description,
		DocumentID:  r.DocumentID,
	}
}

func entityDetailToJSON(d domain.EntityDetail) map[string]any {
	docs := make([]documentJSON, len(d.Documents))
	for i, doc := range d.Documents {
		docs[i] = documentToJSON(doc, false)
	}
	connected := make([]entityJSON, len(d.Connected))
	for i, e := range d.Connected {
		connected[i] = entityJSON{ID: e.ID, Name: e.Name, Type: e.Type, Description: e.Description}
	}
	rels := make([]relationshipJSON, len(d.Relationships))
	for i, r := range d.Relationships {
		rels[i] = relationshipToJSON(r)
	}
	return map[string]any{
		"entity": entityJSON{
			ID: d.Entity.ID, Name: d.Entity.Name, Type: d.Entity.Type, Description: d.Entity.Description,
		},
		"documents":     docs,
		"connected":     connected,
		"relationships": rels,
	}
}
