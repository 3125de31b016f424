package openai

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/noesis/internal/domain"
	"github.com/kailas-cloud/noesis/internal/metrics"
)

// StreamChat streams a chat completion, invoking onDelta for every content
// delta, and returns the full assistant message. A non-nil error from
// onDelta aborts the stream (the consumer is gone); generation up to that
// point is still returned.
func (c *Client) StreamChat(
	ctx context.Context, messages []domain.PromptMessage, onDelta func(delta string) error,
) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
		Stream:   true,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	start := time.Now()
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		metrics.EnrichmentRequestsTotal.WithLabelValues("generate", "error").Inc()
		return "", parseAPIError("generate", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.EnrichmentRequestsTotal.WithLabelValues("generate", "error").Inc()
			return full.String(), parseAPIError("generate", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				break
			}
		}
	}

	metrics.EnrichmentRequestsTotal.WithLabelValues("generate", "success").Inc()
	metrics.EnrichmentRequestDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())

	return full.String(), nil
}
