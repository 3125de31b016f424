// Package openai talks to an OpenAI-compatible provider for embeddings,
// summarization, entity extraction, title suggestions, and chat generation.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/noesis/internal/domain"
	"github.com/kailas-cloud/noesis/internal/metrics"
)

// Client is an OpenAI-compatible provider client.
type Client struct {
	client     *openai.Client
	embModel   openai.EmbeddingModel
	dimensions int
	chatModel  string
	logger     *zap.Logger
}

// Config holds provider settings.
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Dimensions     int
	ChatModel      string
	Logger         *zap.Logger
}

// NewClient creates a provider client.
func NewClient(cfg *Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		client:     openai.NewClientWithConfig(clientCfg),
		embModel:   openai.EmbeddingModel(cfg.EmbeddingModel),
		dimensions: cfg.Dimensions,
		chatModel:  cfg.ChatModel,
		logger:     logger,
	}
}

// Embed vectorizes one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch vectorizes several texts in one request, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          c.embModel,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EnrichmentRequestsTotal.WithLabelValues("embed", "error").Inc()
		return nil, parseAPIError("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		metrics.EnrichmentRequestsTotal.WithLabelValues("embed", "error").Inc()
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs: %w",
			len(resp.Data), len(texts), domain.ErrEnrichmentUnavailable)
	}

	metrics.EnrichmentRequestsTotal.WithLabelValues("embed", "success").Inc()
	metrics.EnrichmentRequestDuration.WithLabelValues("embed").Observe(duration.Seconds())

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding response index %d out of range: %w",
				d.Index, domain.ErrEnrichmentUnavailable)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// complete runs a non-streaming chat completion and records metrics under op.
func (c *Client) complete(ctx context.Context, op string, temperature float32,
	jsonMode bool, messages []openai.ChatCompletionMessage,
) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EnrichmentRequestsTotal.WithLabelValues(op, "error").Inc()
		return "", parseAPIError(op, err)
	}
	if len(resp.Choices) == 0 {
		metrics.EnrichmentRequestsTotal.WithLabelValues(op, "error").Inc()
		return "", fmt.Errorf("empty %s response: %w", op, domain.ErrEnrichmentUnavailable)
	}

	metrics.EnrichmentRequestsTotal.WithLabelValues(op, "success").Inc()
	metrics.EnrichmentRequestDuration.WithLabelValues(op).Observe(duration.Seconds())

	return resp.Choices[0].Message.Content, nil
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrEnrichmentUnavailable so callers can
// degrade instead of aborting.
func parseAPIError(op string, err error) error {
	wrap := domain.ErrEnrichmentUnavailable

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%s API error %d: %s: %w", op, reqErr.HTTPStatusCode, detail, wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w", op, apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("%s request failed: %w", op, wrap)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
