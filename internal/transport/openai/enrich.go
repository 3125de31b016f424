package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/noesis/internal/domain"
)

const summarizePrompt = `Summarize the following content in 2-4 sentences. ` +
	`Capture the main topic and the most important facts. Respond with the summary only.`

const extractPrompt = `Extract the named entities and the relationships between them from the given text.

Output ONLY valid JSON, no preamble and no explanation, with exactly this shape:

{
  "entities": [
    {"name": "...", "type": "person|organization|place|concept|technology|event|other", "description": "..."}
  ],
  "relationships": [
    {"source": "...", "target": "...", "type": "short_snake_case_label", "description": "..."}
  ]
}

Rules:
- Entity names are the canonical surface form from the text.
- Relationship source and target must be names from the entities list.
- Include only entities and relationships explicitly supported by the text. Do not hallucinate.
- If nothing can be extracted, return empty arrays.`

const titlePrompt = `Generate a short title (at most 8 words) for a conversation that starts with ` +
	`the following message. Respond with the title only, no quotes.`

// Summarize produces a short summary of the content.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	out, err := c.complete(ctx, "summarize", 0.3, false, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: summarizePrompt},
		{Role: openai.ChatMessageRoleUser, Content: text},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Extract pulls entities and relationships out of the content.
func (c *Client) Extract(ctx context.Context, text string) (domain.Extraction, error) {
	out, err := c.complete(ctx, "extract", 0, true, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: extractPrompt},
		{Role: openai.ChatMessageRoleUser, Content: text},
	})
	if err != nil {
		return domain.Extraction{}, err
	}
	return parseExtraction(out)
}

// SuggestTitle proposes a short thread title for the first user message.
func (c *Client) SuggestTitle(ctx context.Context, firstMessage string) (string, error) {
	out, err := c.complete(ctx, "title", 0.7, false, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: titlePrompt},
		{Role: openai.ChatMessageRoleUser, Content: firstMessage},
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(out), `"`), nil
}

type extractionPayload struct {
	Entities []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"entities"`
	Relationships []struct {
		Source      string `json:"source"`
		Target      string `json:"target"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"relationships"`
}

// parseExtraction decodes the model's JSON, tolerating markdown code fences.
func parseExtraction(raw string) (domain.Extraction, error) {
	raw = stripCodeFence(raw)

	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return domain.Extraction{}, fmt.Errorf("parse extraction JSON: %w: %w", err, domain.ErrEnrichmentUnavailable)
	}

	var ext domain.Extraction
	for _, e := range payload.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		typ := strings.TrimSpace(e.Type)
		if typ == "" {
			typ = "other"
		}
		ext.Entities = append(ext.Entities, domain.ExtractedEntity{
			Name:        name,
			Type:        typ,
			Description: strings.TrimSpace(e.Description),
		})
	}
	for _, r := range payload.Relationships {
		source := strings.TrimSpace(r.Source)
		target := strings.TrimSpace(r.Target)
		if source == "" || target == "" {
			continue
		}
		ext.Relationships = append(ext.Relationships, domain.ExtractedRelationship{
			Source:      source,
			Target:      target,
			Type:        strings.TrimSpace(r.Type),
			Description: strings.TrimSpace(r.Description),
		})
	}
	return ext, nil
}

// stripCodeFence removes a surrounding ```json ... ``` fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
