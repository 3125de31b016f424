package domain

import (
	"fmt"
	"time"
)

// ThreadCategory identifies a thread's scope kind.
type ThreadCategory string

const (
	CategoryGeneral  ThreadCategory = "general"
	CategoryEntity   ThreadCategory = "entity"
	CategoryDocument ThreadCategory = "document"
)

// Scope binds a chat thread to nothing, one entity, or one document.
// It is fixed at thread creation. Use the constructors; the zero value is
// not a valid scope.
type Scope struct {
	category   ThreadCategory
	entityID   string
	documentID string
}

// NewGeneralScope creates an unscoped thread scope.
func NewGeneralScope() Scope {
	return Scope{category: CategoryGeneral}
}

// NewEntityScope creates a scope bound to one entity.
func NewEntityScope(entityID string) (Scope, error) {
	if entityID == "" {
		return Scope{}, fmt.Errorf("%w: entity scope requires entityId", ErrInvalidInput)
	}
	return Scope{category: CategoryEntity, entityID: entityID}, nil
}

// NewDocumentScope creates a scope bound to one document.
func NewDocumentScope(documentID string) (Scope, error) {
	if documentID == "" {
		return Scope{}, fmt.Errorf("%w: document scope requires documentId", ErrInvalidInput)
	}
	return Scope{category: CategoryDocument, documentID: documentID}, nil
}

// ParseScope validates a (category, entityID, documentID) triple coming off
// the wire and returns the corresponding scope.
func ParseScope(category ThreadCategory, entityID, documentID string) (Scope, error) {
	switch category {
	case CategoryGeneral:
		return NewGeneralScope(), nil
	case CategoryEntity:
		return NewEntityScope(entityID)
	case CategoryDocument:
		return NewDocumentScope(documentID)
	default:
		return Scope{}, fmt.Errorf("%w: unknown thread category %q", ErrInvalidInput, category)
	}
}

// ReconstructScope rebuilds a scope from storage without validation.
func ReconstructScope(category ThreadCategory, entityID, documentID string) Scope {
	return Scope{category: category, entityID: entityID, documentID: documentID}
}

// Category returns the scope kind.
func (s Scope) Category() ThreadCategory { return s.category }

// EntityID returns the bound entity id, empty unless Category is entity.
func (s Scope) EntityID() string { return s.entityID }

// DocumentID returns the bound document id, empty unless Category is document.
func (s Scope) DocumentID() string { return s.documentID }

// IsGeneral reports whether the scope binds nothing.
func (s Scope) IsGeneral() bool { return s.category == CategoryGeneral }

// Thread is one chat conversation.
type Thread struct {
	ID        string
	Title     string
	Scope     Scope
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRole distinguishes user and assistant turns.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one persisted chat turn. Assistant messages carry provenance
// describing the grounding context used to produce them.
type Message struct {
	ID         string
	ThreadID   string
	Role       MessageRole
	Content    string
	Provenance *Provenance
	CreatedAt  time.Time
}

// ChunkRef identifies a retrieved chunk used to ground an answer.
type ChunkRef struct {
	ChunkID       string  `json:"chunkId"`
	DocumentID    string  `json:"documentId"`
	DocumentTitle string  `json:"documentTitle"`
	Score         float64 `json:"score"`
}

// Provenance records which chunks and entities grounded an assistant message.
type Provenance struct {
	Chunks   []ChunkRef `json:"chunks,omitempty"`
	Entities []string   `json:"entities,omitempty"`
}
