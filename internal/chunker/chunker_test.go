package chunker

import (
	"strings"
	"testing"
)

func TestChunk_Empty(t *testing.T) {
	c := New(300)
	if spans := c.Chunk(""); spans != nil {
		t.Errorf("expected nil spans, got %d", len(spans))
	}
	if spans := c.Chunk("   \n\n  \n\n"); spans != nil {
		t.Errorf("expected nil spans for whitespace, got %d", len(spans))
	}
}

func TestChunk_SingleParagraph(t *testing.T) {
	c := New(300)
	spans := c.Chunk("A short note about something.")
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Index != 0 {
		t.Errorf("index = %d, want 0", spans[0].Index)
	}
	if spans[0].Text != "A short note about something." {
		t.Errorf("text = %q", spans[0].Text)
	}
}

func TestChunk_PacksParagraphsUpToLimit(t *testing.T) {
	// Each paragraph estimates to 25 tokens (100 chars). With a 60 token
	// limit, two fit per span; the third starts a new one.
	para := strings.Repeat("word ", 20) // 100 chars
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)

	c := New(60)
	spans := c.Chunk(text)
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if !strings.Contains(spans[0].Text, "\n\n") {
		t.Errorf("first span should hold two paragraphs, got %q", spans[0].Text)
	}
	for i, s := range spans {
		if s.Index != i {
			t.Errorf("span %d has index %d", i, s.Index)
		}
	}
}

func TestChunk_OversizedParagraphKeptWhole(t *testing.T) {
	big := strings.TrimSpace(strings.Repeat("word ", 400)) // ~500 tokens
	c := New(300)
	spans := c.Chunk("intro\n\n" + big + "\n\nafter")
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}
	if spans[1].Text != big {
		t.Errorf("oversized paragraph was split")
	}
	if spans[1].TokenCount <= 300 {
		t.Errorf("token count = %d, want > 300", spans[1].TokenCount)
	}
}

func TestChunk_NormalizesWindowsLineEndings(t *testing.T) {
	c := New(300)
	spans := c.Chunk("one\r\n\r\ntwo")
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Text != "one\n\ntwo" {
		t.Errorf("text = %q", spans[0].Text)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty = %d, want 0", got)
	}
	if got := EstimateTokens("ab"); got != 1 {
		t.Errorf("short text = %d, want at least 1", got)
	}
	if got := EstimateTokens(strings.Repeat("x", 400)); got != 100 {
		t.Errorf("400 chars = %d, want 100", got)
	}
}

func TestToChunks(t *testing.T) {
	spans := []Span{
		{Index: 0, Text: "first", TokenCount: 1},
		{Index: 1, Text: "second", TokenCount: 2},
	}
	chunks := ToChunks("doc-1", spans)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	for i, ch := range chunks {
		if ch.DocumentID != "doc-1" {
			t.Errorf("chunk %d document = %q", i, ch.DocumentID)
		}
		if ch.Index != i {
			t.Errorf("chunk %d index = %d", i, ch.Index)
		}
	}
}
