// Package document persists documents and their chunks in the SQLite
// knowledge store and serves chunk-level vector and lexical search.
package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// Repository stores documents and chunks.
type Repository struct {
	db *sql.DB
}

// New creates a document repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks store connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Create inserts a new document row in processing status.
func (r *Repository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (id, source_url, title, kind, content, summary, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SourceURL, doc.Title, string(doc.Kind), doc.Content, doc.Summary,
		string(doc.Status), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Get returns one document by id.
func (r *Repository) Get(ctx context.Context, id string) (domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, source_url, title, kind, content, summary, status, created_at, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// List returns all documents, newest first, without their full content.
func (r *Repository) List(ctx context.Context) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_url, title, kind, '', summary, status, created_at, updated_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes a document. Chunks, mentions, and relationships sourced
// from the document cascade; entities survive.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// SetSummary stores the document summary.
func (r *Repository) SetSummary(ctx context.Context, id, summary string) error {
	return r.update(ctx, `UPDATE documents SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now().UTC(), id)
}

// SetStatus transitions the document processing status.
func (r *Repository) SetStatus(ctx context.Context, id string, status domain.Status) error {
	return r.update(ctx, `UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
}

// MarkStaleFailed marks documents stuck in processing longer than maxAge as
// failed. Returns the number of documents swept.
func (r *Repository) MarkStaleFailed(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := r.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		string(domain.StatusFailed), time.Now().UTC(), string(domain.StatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale documents: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InsertChunks stores the chunker output for one document in a single
// transaction, preserving chunk order.
func (r *Repository) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, idx, text, token_count, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert chunk: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var emb any
		if len(c.Embedding) > 0 {
			emb = domain.EncodeVector(c.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Index, c.Text, c.TokenCount, emb); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}
	return tx.Commit()
}

// SetChunkEmbeddings stores embeddings for the given chunk ids. Called once
// per successful embedding batch; chunks from failed batches keep a null
// embedding and stay lexical-only.
func (r *Repository) SetChunkEmbeddings(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids/vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE chunks SET embedding = ? WHERE id = ?`,
			domain.EncodeVector(vectors[i]), id); err != nil {
			return fmt.Errorf("set chunk embedding: %w", err)
		}
	}
	return tx.Commit()
}

// Chunks returns a document's chunks in index order.
func (r *Repository) Chunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, idx, text, token_count, embedding
		FROM chunks WHERE document_id = ? ORDER BY idx`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SearchVector ranks chunks by cosine similarity against the query vector.
// Chunks without an embedding are not candidates here.
func (r *Repository) SearchVector(ctx context.Context, query []float32, limit int) ([]domain.ChunkMatch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, d.title, c.text, c.embedding
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("vector candidates: %w", err)
	}
	defer rows.Close()

	var matches []domain.ChunkMatch
	for rows.Next() {
		var m domain.ChunkMatch
		var blob []byte
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.DocumentTitle, &m.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		vec, err := domain.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decode chunk embedding: %w", err)
		}
		m.Score = domain.Cosine(query, vec)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// SearchLexical ranks chunks with FTS5 BM25. Reaches chunks that never got
// an embedding.
func (r *Repository) SearchLexical(ctx context.Context, query string, limit int) ([]domain.ChunkMatch, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, d.title, c.text, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var matches []domain.ChunkMatch
	for rows.Next() {
		var m domain.ChunkMatch
		var rank float64
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.DocumentTitle, &m.Text, &rank); err != nil {
			return nil, fmt.Errorf("scan lexical match: %w", err)
		}
		// bm25() is smaller-is-better; negate for descending-score ordering.
		m.Score = -rank
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *Repository) update(ctx context.Context, stmt string, args ...any) error {
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var kind, status string
	err := row.Scan(&doc.ID, &doc.SourceURL, &doc.Title, &kind, &doc.Content,
		&doc.Summary, &status, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.Kind = domain.Kind(kind)
	doc.Status = domain.Status(status)
	return doc, nil
}

func scanChunk(row rowScanner) (domain.Chunk, error) {
	var c domain.Chunk
	var blob []byte
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &c.TokenCount, &blob); err != nil {
		return domain.Chunk{}, fmt.Errorf("scan chunk: %w", err)
	}
	vec, err := domain.DecodeVector(blob)
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("decode chunk embedding: %w", err)
	}
	c.Embedding = vec
	return c, nil
}

// buildFTSQuery turns free text into a safe FTS5 OR-query of quoted terms.
func buildFTSQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
