// Package answer generates answers to chat messages and writes them back to the chat document.
//
// A run moderates the newest message first. Flagged content short-circuits the run with a fixed
// warning and no call to the completion provider. Otherwise the answer and, for the first message
// of a chat, a title are generated concurrently.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"golang.org/x/sync/errgroup"
)

// Moderator classifies a text against the provider's content policy.
type Moderator interface {
	Moderate(ctx context.Context, text string) (bool, error)
}

// Completer generates the next assistant message for a conversation. The userID is forwarded to
// the provider for abuse tracking, not for authorization.
type Completer interface {
	Complete(ctx context.Context, messages []models.CompletionMessage, userID string) (string, error)
}

// Renderer converts a Markdown answer into HTML.
type Renderer interface {
	Render(markdown string) (string, error)
}

const (
	// FlaggedWarning replaces the answer when the user's message is flagged by moderation.
	FlaggedWarning = "⚠️ Your message was flagged as inappropriate. Please try to rephrase it."

	// SystemPrompt is prepended to every conversation sent for answering.
	SystemPrompt = "You are ChatGPT, a useful assistant. You answer using Markdown code. " +
		"If you need to write programming code snippets - use correct Markdown format, " +
		"like ```javascript alert(\"Hello World!\") ```. That will make UI to render your answer nicely."

	titlePrompt = "Summarize text into max 5 words. No quotes or special characters. Text:\"\"\"\n%s\n\"\"\""
)

// Pipeline runs moderation and answer generation for one chat turn.
type Pipeline struct {
	moderator Moderator
	completer Completer
	renderer  Renderer

	now func() time.Time

	logger *slog.Logger
}

// NewPipeline creates a Pipeline from its collaborators.
func NewPipeline(moderator Moderator, completer Completer, renderer Renderer, logger *slog.Logger) Pipeline {
	return Pipeline{
		moderator: moderator,
		completer: completer,
		renderer:  renderer,
		now:       time.Now,
		logger:    logger.With(slog.String("module", "answer")),
	}
}

// Run answers the last of messages, which must not be empty. Errors of the moderator, completer
// and renderer are returned unmodified; there are no retries.
func (p Pipeline) Run(ctx context.Context, messages []models.Message, userID string) (models.Outcome, error) {
	if len(messages) == 0 {
		return models.Outcome{}, errors.New("no messages to answer")
	}

	start := p.now()

	flagged, err := p.moderator.Moderate(ctx, messages[len(messages)-1].Content)
	if err != nil {
		return models.Outcome{}, err
	}
	if flagged {
		p.logger.Info("Message flagged", slog.String("userID", userID))
		return models.Outcome{
			Content:      FlaggedWarning,
			ResponseTime: p.now().Sub(start),
			IsFlagged:    true,
		}, nil
	}

	var content, title string
	// Neither call cancels the other on failure; the run fails once both returned.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		content, err = p.generateAnswer(ctx, messages, userID)
		return err
	})
	g.Go(func() error {
		var err error
		title, err = p.generateTitle(ctx, messages, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Outcome{}, err
	}

	return models.Outcome{
		Content:      content,
		Title:        title,
		ResponseTime: p.now().Sub(start),
	}, nil
}

func (p Pipeline) generateAnswer(ctx context.Context, messages []models.Message, userID string) (string, error) {
	msgs := make([]models.CompletionMessage, 0, len(messages)+1)
	msgs = append(msgs, models.CompletionMessage{Role: models.RoleSystem, Content: SystemPrompt})
	for _, msg := range messages {
		msgs = append(msgs, msg.Completion())
	}

	answer, err := p.completer.Complete(ctx, msgs, userID)
	if err != nil {
		return "", err
	}
	p.logger.Debug("Answer before markdown", slog.String("answer", answer))

	return p.renderer.Render(answer)
}

// generateTitle summarizes the first message of a chat. Later turns keep the existing title, so
// it returns an empty title for them without calling the completer.
func (p Pipeline) generateTitle(ctx context.Context, messages []models.Message, userID string) (string, error) {
	if len(messages) != 1 {
		return "", nil
	}

	title, err := p.completer.Complete(ctx, []models.CompletionMessage{
		{
			Role:    models.RoleUser,
			Content: fmt.Sprintf(titlePrompt, messages[0].Content),
		},
	}, userID)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(title), nil
}
