// Package retrieval assembles grounding context for a query: hybrid chunk
// search fused with Reciprocal Rank Fusion, entity matching, and a graph
// narrative, with an optional focus bias toward one entity or document.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/noesis/internal/domain"
	"github.com/kailas-cloud/noesis/internal/metrics"
)

// descriptionCap bounds the focus description text mixed into the query.
const descriptionCap = 200

// narrativeMaxLines bounds the graph narrative length.
const narrativeMaxLines = 10

// Query is one retrieval request. At most one of FocusEntityID and
// FocusDocumentID may be set.
type Query struct {
	Text            string
	Budget          int
	FocusEntityID   string
	FocusDocumentID string
}

// Config holds retrieval settings.
type Config struct {
	Budget        int
	MaxCandidates int
}

// Service builds retrieval context.
type Service struct {
	chunks   ChunkSearcher
	entities EntitySearcher
	docs     DocumentReader
	embedder domain.Embedder
	cfg      Config
	logger   *zap.Logger
}

// New creates a retrieval service.
func New(chunks ChunkSearcher, entities EntitySearcher, docs DocumentReader,
	embedder domain.Embedder, cfg Config, logger *zap.Logger,
) *Service {
	if cfg.Budget <= 0 {
		cfg.Budget = 3
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 50
	}
	return &Service{
		chunks:   chunks,
		entities: entities,
		docs:     docs,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
}

// BuildContext assembles grounding context for the query. It never fails the
// caller: an unavailable embedding service degrades to lexical-only matching,
// and a total retrieval failure yields an empty context.
func (s *Service) BuildContext(ctx context.Context, q Query) domain.RetrievalContext {
	budget := q.Budget
	if budget <= 0 {
		budget = s.cfg.Budget
	}

	augmented, focusDocIDs := s.resolveFocus(ctx, q)

	qvec, err := s.embedder.Embed(ctx, augmented)
	if err != nil {
		s.logger.Warn("query embedding unavailable, falling back to lexical search", zap.Error(err))
		qvec = nil
	}

	chunks := s.searchChunks(ctx, augmented, qvec, budget, focusDocIDs)
	entities := s.searchEntities(ctx, augmented, qvec, budget, q.FocusEntityID)
	narrative := s.buildNarrative(ctx, entities)

	result := domain.RetrievalContext{Chunks: chunks, Entities: entities, Narrative: narrative}
	switch {
	case result.Empty():
		metrics.RetrievalRequestsTotal.WithLabelValues("empty").Inc()
	case qvec == nil:
		metrics.RetrievalRequestsTotal.WithLabelValues("lexical_only").Inc()
	default:
		metrics.RetrievalRequestsTotal.WithLabelValues("hybrid").Inc()
	}
	return result
}

// resolveFocus augments the query with the focus target's name and truncated
// description, and returns the set of document ids counted as focus matches.
func (s *Service) resolveFocus(ctx context.Context, q Query) (string, map[string]bool) {
	switch {
	case q.FocusEntityID != "":
		detail, err := s.entities.EntityDetail(ctx, q.FocusEntityID)
		if err != nil {
			s.logger.Warn("focus entity unavailable", zap.String("entity_id", q.FocusEntityID), zap.Error(err))
			return q.Text, nil
		}
		focusDocs := make(map[string]bool, len(detail.Documents))
		for _, d := range detail.Documents {
			focusDocs[d.ID] = true
		}
		return augment(q.Text, detail.Entity.Name, detail.Entity.Description), focusDocs

	case q.FocusDocumentID != "":
		doc, err := s.docs.Get(ctx, q.FocusDocumentID)
		if err != nil {
			s.logger.Warn("focus document unavailable", zap.String("document_id", q.FocusDocumentID), zap.Error(err))
			return q.Text, nil
		}
		return augment(q.Text, doc.Title, doc.Summary), map[string]bool{doc.ID: true}
	}
	return q.Text, nil
}

// searchChunks runs the hybrid chunk search and applies the focus ordering:
// focus membership is the primary sort key, fused score the secondary, both
// descending.
func (s *Service) searchChunks(
	ctx context.Context, query string, qvec []float32, budget int, focusDocIDs map[string]bool,
) []domain.ChunkMatch {
	var vector []domain.ChunkMatch
	if qvec != nil {
		var err error
		vector, err = s.chunks.SearchVector(ctx, qvec, s.cfg.MaxCandidates)
		if err != nil {
			s.logger.Error("chunk vector search failed", zap.Error(err))
			vector = nil
		}
	}

	lexical, err := s.chunks.SearchLexical(ctx, query, s.cfg.MaxCandidates)
	if err != nil {
		s.logger.Error("chunk lexical search failed", zap.Error(err))
		lexical = nil
	}

	fused := fuseRRF(vector, lexical, s.cfg.MaxCandidates)
	for i := range fused {
		fused[i].FocusMatch = focusDocIDs[fused[i].DocumentID]
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].FocusMatch != fused[j].FocusMatch {
			return fused[i].FocusMatch
		}
		return fused[i].Score > fused[j].Score
	})

	if len(fused) > budget {
		fused = fused[:budget]
	}
	return fused
}

// searchEntities ranks entities by vector similarity with a name-match
// fallback, and force-includes the focus entity when scoring missed it.
func (s *Service) searchEntities(
	ctx context.Context, query string, qvec []float32, budget int, focusEntityID string,
) []domain.Entity {
	var matched []domain.Entity
	if qvec != nil {
		var err error
		matched, err = s.entities.SearchVector(ctx, qvec, budget)
		if err != nil {
			s.logger.Error("entity vector search failed", zap.Error(err))
			matched = nil
		}
	}

	if len(matched) < budget {
		byName, err := s.entities.SearchName(ctx, query, budget)
		if err != nil {
			s.logger.Error("entity name search failed", zap.Error(err))
		}
		seen := make(map[string]bool, len(matched))
		for _, e := range matched {
			seen[e.ID] = true
		}
		for _, e := range byName {
			if len(matched) >= budget {
				break
			}
			if !seen[e.ID] {
				seen[e.ID] = true
				matched = append(matched, e)
			}
		}
	}

	if focusEntityID != "" {
		present := false
		for _, e := range matched {
			if e.ID == focusEntityID {
				present = true
				break
			}
		}
		if !present {
			focus, err := s.entities.GetEntity(ctx, focusEntityID)
			if err != nil {
				s.logger.Warn("force-include of focus entity failed",
					zap.String("entity_id", focusEntityID), zap.Error(err))
			} else {
				matched = append([]domain.Entity{focus}, matched...)
				if len(matched) > budget {
					matched = matched[:budget]
				}
			}
		}
	}

	return matched
}

// buildNarrative renders the relationships touching the matched entities as
// short prompt-ready lines, resolving 1-hop neighbor names as needed.
func (s *Service) buildNarrative(ctx context.Context, entities []domain.Entity) string {
	if len(entities) == 0 {
		return ""
	}

	ids := make([]string, len(entities))
	names := make(map[string]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
		names[e.ID] = e.Name
	}

	rels, err := s.entities.RelationshipsTouching(ctx, ids)
	if err != nil {
		s.logger.Error("load relationships for narrative", zap.Error(err))
		return ""
	}

	var lines []string
	for _, rel := range rels {
		if len(lines) >= narrativeMaxLines {
			break
		}
		source := s.entityName(ctx, names, rel.SourceEntityID)
		target := s.entityName(ctx, names, rel.TargetEntityID)
		if source == "" || target == "" {
			continue
		}
		line := fmt.Sprintf("%s -[%s]-> %s", source, rel.Type, target)
		if rel.Description != "" {
			line += ": " + rel.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (s *Service) entityName(ctx context.Context, names map[string]string, id string) string {
	if name, ok := names[id]; ok {
		return name
	}
	e, err := s.entities.GetEntity(ctx, id)
	if err != nil {
		names[id] = ""
		return ""
	}
	names[id] = e.Name
	return e.Name
}

// augment mixes the focus target's name and truncated description into the
// query text before search.
func augment(query, name, description string) string {
	parts := []string{query, name}
	if description != "" {
		if len(description) > descriptionCap {
			description = description[:descriptionCap]
		}
		parts = append(parts, description)
	}
	return strings.Join(parts, " ")
}
