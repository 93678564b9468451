package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chatrelay/internal/models"
)

const anthropicProvider = "anthropic"

// Anthropic provides a completion client for the Anthropic messages API.
type Anthropic struct {
	apiKey    string
	model     string
	maxTokens int
	endpoint  string

	client *http.Client
}

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Metadata  *anthropicMetadata `json:"metadata,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMetadata struct {
	UserID string `json:"user_id"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified API key, model name, and maximum
// token limit. An empty endpoint selects the public Anthropic API.
func NewAnthropic(apiKey, model, endpoint string, maxTokens int) Anthropic {
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	return Anthropic{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		client:    &http.Client{},
	}
}

// extractSystemMessages joins the system messages into Anthropic's separate system prompt, as
// the messages API only accepts user and assistant turns.
func extractSystemMessages(messages []models.CompletionMessage) (string, []anthropicMessage) {
	var system []string
	msgs := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		msgs = append(msgs, anthropicMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return strings.Join(system, "\n\n"), msgs
}

// Complete sends the messages to the Anthropic messages API and returns the concatenated text of
// the answer. The userID is forwarded as request metadata.
func (a Anthropic) Complete(ctx context.Context, messages []models.CompletionMessage, userID string) (string, error) {
	system, msgs := extractSystemMessages(messages)

	reqBody := anthropicChatRequest{
		Model:     a.model,
		Messages:  msgs,
		System:    system,
		MaxTokens: a.maxTokens,
	}
	if userID != "" {
		reqBody.Metadata = &anthropicMetadata{UserID: userID}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", a.providerError(fmt.Errorf("error marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", a.providerError(fmt.Errorf("error creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", a.providerError(fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e anthropicError
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return "", a.providerError(fmt.Errorf("unexpected status code %d", resp.StatusCode))
		}
		return "", a.providerError(fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
	}

	var res anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", a.providerError(fmt.Errorf("error decoding response: %w", err))
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &models.EmptyCompletionError{Provider: anthropicProvider, Model: a.model}
	}
	return sb.String(), nil
}

// providerError wraps every failure of a call. Context errors stay reachable through Unwrap.
func (a Anthropic) providerError(err error) error {
	return &models.ProviderError{Provider: anthropicProvider, Op: "messages", Err: err}
}
