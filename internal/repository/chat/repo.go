// Package chat persists chat threads and messages.
package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// Repository stores threads and messages.
type Repository struct {
	db *sql.DB
}

// New creates a chat repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateThread inserts a new thread with its fixed scope.
func (r *Repository) CreateThread(ctx context.Context, t *domain.Thread) error {
	var entityID, documentID any
	if id := t.Scope.EntityID(); id != "" {
		entityID = id
	}
	if id := t.Scope.DocumentID(); id != "" {
		documentID = id
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, category, entity_id, document_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, string(t.Scope.Category()), entityID, documentID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// GetThread returns one thread by id.
func (r *Repository) GetThread(ctx context.Context, id string) (domain.Thread, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, category, entity_id, document_id, created_at, updated_at
		FROM threads WHERE id = ?`, id)
	return scanThread(row)
}

// ListThreads returns all threads, most recently updated first.
func (r *Repository) ListThreads(ctx context.Context) ([]domain.Thread, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, category, entity_id, document_id, created_at, updated_at
		FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []domain.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// SetThreadTitle replaces a thread's title.
func (r *Repository) SetThreadTitle(ctx context.Context, id, title string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE threads SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set thread title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrThreadNotFound
	}
	return nil
}

// CreateMessage inserts a message. Assistant provenance is stored as JSON.
func (r *Repository) CreateMessage(ctx context.Context, m *domain.Message) error {
	var provenance any
	if m.Provenance != nil {
		data, err := json.Marshal(m.Provenance)
		if err != nil {
			return fmt.Errorf("marshal provenance: %w", err)
		}
		provenance = string(data)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, role, content, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, string(m.Role), m.Content, provenance, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.ThreadID)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

// ListMessages returns a thread's messages in chronological order.
func (r *Repository) ListMessages(ctx context.Context, threadID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, provenance, created_at
		FROM messages WHERE thread_id = ? ORDER BY created_at, id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var provenance sql.NullString
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &provenance, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = domain.MessageRole(role)
		if provenance.Valid && provenance.String != "" {
			var p domain.Provenance
			if err := json.Unmarshal([]byte(provenance.String), &p); err != nil {
				return nil, fmt.Errorf("unmarshal provenance: %w", err)
			}
			m.Provenance = &p
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (domain.Thread, error) {
	var t domain.Thread
	var category string
	var entityID, documentID sql.NullString
	err := row.Scan(&t.ID, &t.Title, &category, &entityID, &documentID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Thread{}, domain.ErrThreadNotFound
	}
	if err != nil {
		return domain.Thread{}, fmt.Errorf("scan thread: %w", err)
	}
	t.Scope = domain.ReconstructScope(domain.ThreadCategory(category), entityID.String, documentID.String)
	return t, nil
}
