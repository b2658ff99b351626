package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"sessionscribe/internal/classifier"
)

// ChatBackend talks to an OpenAI-compatible chat completions endpoint.
// Implements classifier.Backend; also usable as the knowledge extraction and
// scene summary collaborator.
type ChatBackend struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   *zap.Logger
}

// NewChatBackend creates a new ChatBackend instance
func NewChatBackend(endpoint, apiKey, model string, logger *zap.Logger) *ChatBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	return &ChatBackend{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		// Per-call deadlines come from the caller's context; the client
		// itself carries no overall timeout.
		client: &http.Client{},
		logger: logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements classifier.Backend.
func (b *ChatBackend) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    b.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("chat backend http %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat backend returned no choices")
	}

	b.logger.Debug("chat completion received",
		zap.String("model", b.model),
		zap.Int("response_chars", len(parsed.Choices[0].Message.Content)))
	return parsed.Choices[0].Message.Content, nil
}

var _ classifier.Backend = (*ChatBackend)(nil)
