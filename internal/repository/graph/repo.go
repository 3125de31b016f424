// Package graph persists entities, relationships, and mentions, and serves
// the knowledge-graph read paths.
package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// Repository stores the knowledge graph.
type Repository struct {
	db *sql.DB
}

// New creates a graph repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindEntity looks up an entity by exact (name, type).
func (r *Repository) FindEntity(ctx context.Context, name, entityType string) (domain.Entity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, type, description, embedding, created_at
		FROM entities WHERE name = ? AND type = ?`, name, entityType)
	return scanEntity(row)
}

// CreateEntity inserts an entity, tolerating a concurrent insert of the same
// (name, type): on conflict the stored row wins and is returned. A blank
// stored description is upgraded to the incoming one.
func (r *Repository) CreateEntity(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	var emb any
	if len(e.Embedding) > 0 {
		emb = domain.EncodeVector(e.Embedding)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO entities (id, name, type, description, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, type) DO UPDATE SET
			description = CASE WHEN entities.description = '' THEN excluded.description ELSE entities.description END
		RETURNING id, name, type, description, embedding, created_at`,
		e.ID, e.Name, e.Type, e.Description, emb, e.CreatedAt)
	stored, err := scanEntity(row)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("upsert entity: %w", err)
	}
	return stored, nil
}

// GetEntity returns one entity by id.
func (r *Repository) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, type, description, embedding, created_at
		FROM entities WHERE id = ?`, id)
	return scanEntity(row)
}

// SetEntityEmbedding stores an entity embedding.
func (r *Repository) SetEntityEmbedding(ctx context.Context, id string, vec []float32) error {
	_, err := r.db.ExecContext(ctx, `UPDATE entities SET embedding = ? WHERE id = ?`,
		domain.EncodeVector(vec), id)
	if err != nil {
		return fmt.Errorf("set entity embedding: %w", err)
	}
	return nil
}

// CreateRelationship inserts a directed edge between two stored entities.
func (r *Repository) CreateRelationship(ctx context.Context, rel domain.Relationship) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relationships (id, source_entity_id, target_entity_id, relation_type, description, document_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rel.ID, rel.SourceEntityID, rel.TargetEntityID, rel.Type, rel.Description, rel.DocumentID, rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

// CreateMention records that an entity was observed in a document.
func (r *Repository) CreateMention(ctx context.Context, m domain.Mention) error {
	var chunkID any
	if m.ChunkID != "" {
		chunkID = m.ChunkID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_mentions (id, entity_id, document_id, chunk_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.EntityID, m.DocumentID, chunkID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert mention: %w", err)
	}
	return nil
}

// MentionCount returns the number of mention rows for an entity.
func (r *Repository) MentionCount(ctx context.Context, entityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_mentions WHERE entity_id = ?`, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mentions: %w", err)
	}
	return n, nil
}

// FullGraph returns every entity with its mention count plus every
// relationship.
func (r *Repository) FullGraph(ctx context.Context) (domain.Graph, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.name, e.type, e.description, e.embedding, e.created_at,
		       (SELECT COUNT(*) FROM entity_mentions m WHERE m.entity_id = e.id)
		FROM entities e ORDER BY e.name`)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var g domain.Graph
	for rows.Next() {
		var ewm domain.EntityWithMentions
		var blob []byte
		if err := rows.Scan(&ewm.ID, &ewm.Name, &ewm.Type, &ewm.Description, &blob,
			&ewm.CreatedAt, &ewm.MentionCount); err != nil {
			return domain.Graph{}, fmt.Errorf("scan entity: %w", err)
		}
		if ewm.Embedding, err = domain.DecodeVector(blob); err != nil {
			return domain.Graph{}, err
		}
		g.Entities = append(g.Entities, ewm)
	}
	if err := rows.Err(); err != nil {
		return domain.Graph{}, err
	}

	g.Relationships, err = r.queryRelationships(ctx, `
		SELECT id, source_entity_id, target_entity_id, relation_type, description, document_id, created_at
		FROM relationships`)
	if err != nil {
		return domain.Graph{}, err
	}
	return g, nil
}

// DocumentSubgraph returns entities mentioned in one document plus the
// relationships strictly between them.
func (r *Repository) DocumentSubgraph(ctx context.Context, documentID string) (domain.Graph, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.name, e.type, e.description, e.embedding, e.created_at,
		       COUNT(m.id)
		FROM entities e
		JOIN entity_mentions m ON m.entity_id = e.id
		WHERE m.document_id = ?
		GROUP BY e.id
		ORDER BY e.name`, documentID)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("document entities: %w", err)
	}
	defer rows.Close()

	var g domain.Graph
	ids := make([]string, 0)
	for rows.Next() {
		var ewm domain.EntityWithMentions
		var blob []byte
		if err := rows.Scan(&ewm.ID, &ewm.Name, &ewm.Type, &ewm.Description, &blob,
			&ewm.CreatedAt, &ewm.MentionCount); err != nil {
			return domain.Graph{}, fmt.Errorf("scan entity: %w", err)
		}
		if ewm.Embedding, err = domain.DecodeVector(blob); err != nil {
			return domain.Graph{}, err
		}
		g.Entities = append(g.Entities, ewm)
		ids = append(ids, ewm.ID)
	}
	if err := rows.Err(); err != nil {
		return domain.Graph{}, err
	}

	g.Relationships, err = r.RelationshipsAmong(ctx, ids)
	if err != nil {
		return domain.Graph{}, err
	}
	return g, nil
}

// RelationshipsAmong returns relationships whose both endpoints are in ids.
func (r *Repository) RelationshipsAmong(ctx context.Context, ids []string) ([]domain.Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	return r.queryRelationships(ctx, fmt.Sprintf(`
		SELECT id, source_entity_id, target_entity_id, relation_type, description, document_id, created_at
		FROM relationships
		WHERE source_entity_id IN (%s) AND target_entity_id IN (%s)`,
		placeholders, placeholders), args...)
}

// RelationshipsTouching returns relationships with at least one endpoint in
// ids, including edges out to entities not in ids.
func (r *Repository) RelationshipsTouching(ctx context.Context, ids []string) ([]domain.Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	return r.queryRelationships(ctx, fmt.Sprintf(`
		SELECT id, source_entity_id, target_entity_id, relation_type, description, document_id, created_at
		FROM relationships
		WHERE source_entity_id IN (%s) OR target_entity_id IN (%s)`,
		placeholders, placeholders), args...)
}

// EntityDetail returns an entity, the documents mentioning it, and entities
// directly connected in either direction.
func (r *Repository) EntityDetail(ctx context.Context, id string) (domain.EntityDetail, error) {
	entity, err := r.GetEntity(ctx, id)
	if err != nil {
		return domain.EntityDetail{}, err
	}

	detail := domain.EntityDetail{Entity: entity}

	docRows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT d.id, d.source_url, d.title, d.kind, '', d.summary, d.status, d.created_at, d.updated_at
		FROM documents d
		JOIN entity_mentions m ON m.document_id = d.id
		WHERE m.entity_id = ?
		ORDER BY d.created_at DESC`, id)
	if err != nil {
		return domain.EntityDetail{}, fmt.Errorf("mentioning documents: %w", err)
	}
	defer docRows.Close()
	for docRows.Next() {
		var doc domain.Document
		var kind, status string
		if err := docRows.Scan(&doc.ID, &doc.SourceURL, &doc.Title, &kind, &doc.Content,
			&doc.Summary, &status, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return domain.EntityDetail{}, fmt.Errorf("scan document: %w", err)
		}
		doc.Kind = domain.Kind(kind)
		doc.Status = domain.Status(status)
		detail.Documents = append(detail.Documents, doc)
	}
	if err := docRows.Err(); err != nil {
		return domain.EntityDetail{}, err
	}

	detail.Relationships, err = r.queryRelationships(ctx, `
		SELECT id, source_entity_id, target_entity_id, relation_type, description, document_id, created_at
		FROM relationships
		WHERE source_entity_id = ? OR target_entity_id = ?`, id, id)
	if err != nil {
		return domain.EntityDetail{}, err
	}

	seen := map[string]bool{id: true}
	for _, rel := range detail.Relationships {
		for _, other := range []string{rel.SourceEntityID, rel.TargetEntityID} {
			if seen[other] {
				continue
			}
			seen[other] = true
			e, err := r.GetEntity(ctx, other)
			if err != nil {
				if errors.Is(err, domain.ErrEntityNotFound) {
					continue
				}
				return domain.EntityDetail{}, err
			}
			detail.Connected = append(detail.Connected, e)
		}
	}
	sort.Slice(detail.Connected, func(i, j int) bool {
		return detail.Connected[i].Name < detail.Connected[j].Name
	})

	return detail, nil
}

// SearchVector ranks entities by cosine similarity against the query vector.
func (r *Repository) SearchVector(ctx context.Context, query []float32, limit int) ([]domain.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, type, description, embedding, created_at
		FROM entities WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("entity candidates: %w", err)
	}
	defer rows.Close()

	type scored struct {
		e     domain.Entity
		score float64
	}
	var candidates []scored
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, scored{e: e, score: domain.Cosine(query, e.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]domain.Entity, len(candidates))
	for i, c := range candidates {
		out[i] = c.e
	}
	return out, nil
}

// SearchName matches entities by case-insensitive name substring.
func (r *Repository) SearchName(ctx context.Context, query string, limit int) ([]domain.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, type, description, embedding, created_at
		FROM entities
		WHERE name LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY name LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("entity name search: %w", err)
	}
	defer rows.Close()

	var out []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) queryRelationships(ctx context.Context, stmt string, args ...any) ([]domain.Relationship, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var rels []domain.Relationship
	for rows.Next() {
		var rel domain.Relationship
		if err := rows.Scan(&rel.ID, &rel.SourceEntityID, &rel.TargetEntityID,
			&rel.Type, &rel.Description, &rel.DocumentID, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (domain.Entity, error) {
	var e domain.Entity
	var blob []byte
	err := row.Scan(&e.ID, &e.Name, &e.Type, &e.Description, &blob, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entity{}, domain.ErrEntityNotFound
	}
	if err != nil {
		return domain.Entity{}, fmt.Errorf("scan entity: %w", err)
	}
	if e.Embedding, err = domain.DecodeVector(blob); err != nil {
		return domain.Entity{}, err
	}
	return e, nil
}
