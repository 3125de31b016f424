// Package chunker splits plain text into ordered, bounded spans used as the
// atomic unit of retrieval.
package chunker

import (
	"strings"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// charsPerToken is the rough chars-to-tokens ratio used for estimates.
const charsPerToken = 4

// Span is one chunk of text before persistence: index, text, token estimate.
type Span struct {
	Index      int
	Text       string
	TokenCount int
}

// Chunker packs paragraphs into spans of at most MaxTokens estimated tokens.
// A single paragraph larger than MaxTokens becomes its own oversized span
// rather than being split mid-sentence.
type Chunker struct {
	maxTokens int
}

// New creates a Chunker. maxTokens <= 0 falls back to 300.
func New(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &Chunker{maxTokens: maxTokens}
}

// Chunk splits text into ordered spans with contiguous zero-based indices.
func (c *Chunker) Chunk(text string) []Span {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var spans []Span
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		joined := strings.Join(current, "\n\n")
		spans = append(spans, Span{
			Index:      len(spans),
			Text:       joined,
			TokenCount: EstimateTokens(joined),
		})
		current = current[:0]
		currentTokens = 0
	}

	for _, p := range paragraphs {
		tokens := EstimateTokens(p)
		if currentTokens > 0 && currentTokens+tokens > c.maxTokens {
			flush()
		}
		current = append(current, p)
		currentTokens += tokens
		if currentTokens >= c.maxTokens {
			flush()
		}
	}
	flush()

	return spans
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	n := len(text) / charsPerToken
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// ToChunks converts spans into domain chunks for a document. IDs are left
// for the caller to assign.
func ToChunks(documentID string, spans []Span) []domain.Chunk {
	chunks := make([]domain.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = domain.Chunk{
			DocumentID: documentID,
			Index:      s.Index,
			Text:       s.Text,
			TokenCount: s.TokenCount,
		}
	}
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
