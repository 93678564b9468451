package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

const openAIProvider = "openai"

// OpenAI provides the completion and moderation endpoints of OpenAI, or of any provider exposing
// an OpenAI-compatible API when a base URL is configured.
type OpenAI struct {
	model           string
	moderationModel string

	client *goopenai.Client

	logger *slog.Logger
}

// OpenAIConfig configures an OpenAI client. BaseURL is optional and points the client at an
// OpenAI-compatible API such as OpenRouter.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	ModerationModel string
}

// NewOpenAI creates a new OpenAI instance with the specified configuration.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) OpenAI {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = goopenai.GPT3Dot5Turbo
	}

	return OpenAI{
		model:           model,
		moderationModel: cfg.ModerationModel,
		client:          goopenai.NewClientWithConfig(clientCfg),
		logger:          logger.With(slog.String("module", "openai")),
	}
}

// Complete is a wrapper around the OpenAI chat completion API. The userID is forwarded to OpenAI
// for abuse tracking.
func (o OpenAI) Complete(ctx context.Context, messages []models.CompletionMessage, userID string) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
		User:     userID,
	})
	if err != nil {
		o.logAPIError(err)
		return "", &models.ProviderError{Provider: openAIProvider, Op: "chat completion", Err: err}
	}

	if len(resp.Choices) == 0 {
		o.logger.Warn("Empty completion",
			slog.String("id", resp.ID),
			slog.String("model", resp.Model))
		return "", &models.EmptyCompletionError{Provider: openAIProvider, Model: o.model}
	}

	return resp.Choices[0].Message.Content, nil
}

// Moderate classifies text against OpenAI's content policy.
func (o OpenAI) Moderate(ctx context.Context, text string) (bool, error) {
	resp, err := o.client.Moderations(ctx, goopenai.ModerationRequest{
		Input: text,
		Model: o.moderationModel,
	})
	if err != nil {
		o.logAPIError(err)
		return false, &models.ProviderError{Provider: openAIProvider, Op: "moderation", Err: err}
	}

	if len(resp.Results) == 0 {
		return false, &models.ProviderError{
			Provider: openAIProvider,
			Op:       "moderation",
			Err:      errors.New("no moderation results found"),
		}
	}

	return resp.Results[0].Flagged, nil
}

func (o OpenAI) logAPIError(err error) {
	var apiErr *goopenai.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	o.logger.Error("OpenAI API error",
		slog.Int("status", apiErr.HTTPStatusCode),
		slog.Any("code", apiErr.Code),
		slog.String("message", apiErr.Message))
}
