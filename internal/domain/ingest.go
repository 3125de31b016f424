package domain

// Ingestion progress steps, emitted in pipeline order. StepComplete and
// StepError are terminal; everything after an error step is abandoned.
const (
	StepFetching    = "fetching"
	StepSaving      = "saving"
	StepChunking    = "chunking"
	StepSummarizing = "summarizing"
	StepExtracting  = "extracting"
	StepEmbedding   = "embedding"
	StepComplete    = "complete"
	StepError       = "error"
)

// ProgressEvent is one entry in the ordered ingestion progress stream.
// Progress is 0-100. Err marks terminal failures only; degraded stages
// report through Message with Err false.
type ProgressEvent struct {
	Step       string `json:"step"`
	Message    string `json:"message"`
	Progress   int    `json:"progress"`
	Err        bool   `json:"error"`
	DocumentID string `json:"documentId,omitempty"`
}

// Extraction is the entity extractor's output for one document.
type Extraction struct {
	Entities      []ExtractedEntity
	Relationships []ExtractedRelationship
}

// ExtractedEntity is a candidate entity named by the extractor, before
// deduplication against stored entities.
type ExtractedEntity struct {
	Name        string
	Type        string
	Description string
}

// ExtractedRelationship references entities by name; endpoints that fail to
// resolve to a stored entity cause the relationship to be skipped.
type ExtractedRelationship struct {
	Source      string
	Target      string
	Type        string
	Description string
}
