package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/ollama/ollama/api"
)

const ollamaProvider = "ollama"

// Ollama provides a completion client for language models served by an Ollama server.
type Ollama struct {
	host  string
	model string

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model string) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:   host,
		model:  model,
		client: api.NewClient(u, &http.Client{}),
	}, nil
}

// Complete sends the messages to the Ollama chat API in a single, non-streaming request. Ollama
// has no notion of end users, so userID is not forwarded.
func (o Ollama) Complete(ctx context.Context, messages []models.CompletionMessage, _ string) (string, error) {
	msgs := make([]api.Message, len(messages))
	for i, msg := range messages {
		msgs[i] = api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	f := false
	req := api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &f,
	}

	var answer string
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		answer += res.Message.Content
		return nil
	}); err != nil {
		return "", &models.ProviderError{Provider: ollamaProvider, Op: "chat", Err: err}
	}

	if answer == "" {
		return "", &models.EmptyCompletionError{Provider: ollamaProvider, Model: o.model}
	}

	return answer, nil
}
