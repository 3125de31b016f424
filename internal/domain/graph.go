package domain

import "time"

// Entity is a named thing extracted from content. At most one entity exists
// per (name, type) pair; the storage layer enforces this with a unique index.
type Entity struct {
	ID          string
	Name        string
	Type        string
	Description string
	Embedding   []float32
	CreatedAt   time.Time
}

// Relationship is a directed, typed edge between two entities, sourced from
// the document it was extracted from. Multiple edges between the same pair
// are allowed as long as they differ in type or source.
type Relationship struct {
	ID             string
	SourceEntityID string
	TargetEntityID string
	Type           string
	Description    string
	DocumentID     string
	CreatedAt      time.Time
}

// Mention records that an entity was observed in a document, optionally in a
// specific chunk. One row per observed mention.
type Mention struct {
	ID         string
	EntityID   string
	DocumentID string
	ChunkID    string
	CreatedAt  time.Time
}

// EntityWithMentions pairs an entity with how many documents mention it.
type EntityWithMentions struct {
	Entity
	MentionCount int
}

// Graph is a full or partial view of the knowledge graph.
type Graph struct {
	Entities      []EntityWithMentions
	Relationships []Relationship
}

// EntityDetail is the neighborhood view of a single entity: the documents
// mentioning it and the entities directly connected in either direction.
type EntityDetail struct {
	Entity        Entity
	Documents     []Document
	Connected     []Entity
	Relationships []Relationship
}
