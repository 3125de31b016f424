package domain

import "time"

// Kind classifies the origin of an ingested document.
type Kind string

const (
	KindArticle Kind = "article"
	KindVideo   Kind = "video"
	KindNote    Kind = "note"
)

// Status tracks document processing state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Document is one ingested unit of content. It is created when ingestion
// starts and mutated as pipeline stages complete.
type Document struct {
	ID        string
	SourceURL string
	Title     string
	Kind      Kind
	Content   string
	Summary   string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a bounded, ordered span of a document's text. Indices for a
// document form a contiguous zero-based sequence matching chunker output.
// Embedding stays nil until the embedding stage succeeds for the chunk's
// batch; such chunks remain reachable by lexical search only.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	TokenCount int
	Embedding  []float32
}

// NormalizedContent is the output of the content normalizer.
type NormalizedContent struct {
	Title   string
	Content string
	Kind    Kind
}
