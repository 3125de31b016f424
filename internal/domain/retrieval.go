package domain

// ChunkMatch is one ranked chunk hit from retrieval. Score is the fused
// relevance score; FocusMatch marks hits belonging to the focus document or
// entity, which sort ahead of everything else.
type ChunkMatch struct {
	ChunkID       string
	DocumentID    string
	DocumentTitle string
	Text          string
	Score         float64
	FocusMatch    bool
}

// RetrievalContext is the grounding material assembled for one query:
// ranked chunks, relevant entities, and a short narrative describing the
// relevant slice of the knowledge graph. Never persisted.
type RetrievalContext struct {
	Chunks    []ChunkMatch
	Entities  []Entity
	Narrative string
}

// Empty reports whether retrieval produced nothing usable.
func (c RetrievalContext) Empty() bool {
	return len(c.Chunks) == 0 && len(c.Entities) == 0 && c.Narrative == ""
}
