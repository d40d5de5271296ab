// Package agent implements the model-backed collaborators: a planner that
// expands goals into executable code units and a debugger that suggests
// fixes for failing executions. Both are best-effort; the execution
// pipeline must keep working when no model is reachable.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Client generates a completion for a prompt. A single method keeps the
// collaborators independent of any particular backend; tests script it.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OllamaClient is a Client backed by a local Ollama server.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates a client for the configured host and model.
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	parsed, err := url.Parse(merged.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadHost, merged.Host, err)
	}

	httpClient := &http.Client{Timeout: merged.RequestTimeout()}
	return &OllamaClient{
		client: api.NewClient(parsed, httpClient),
		model:  merged.Model,
	}, nil
}

// Generate runs one non-streaming chat completion.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
	}

	var b strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return b.String(), nil
}
