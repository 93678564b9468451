package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/MegaGrindStone/chatrelay/internal/answer"
	"github.com/MegaGrindStone/chatrelay/internal/metrics"
	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/MegaGrindStone/chatrelay/internal/schema"
	"github.com/go-chi/chi/v5"
)

type messageResponse struct {
	ResponseTime int64 `json:"responseTime"`
	IsFlagged    bool  `json:"isFlagged"`
}

// HandleMessage answers a new message in a chat. The message in the request body is appended to
// the chat's history, moderated, and, unless it is flagged, answered by the language model. The
// answer or the flag is written back to the chat document before the handler responds with
// {"responseTime": ms, "isFlagged": bool}.
//
// A chat that already holds a flagged message is locked and the handler responds 403 without
// running the pipeline. Once the pipeline starts it runs to completion even if the client goes
// away.
func (m Main) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	chatID, err := parseChatID(r)
	if err != nil {
		m.respondError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		m.respondError(w, r, &models.ValidationError{
			Message: "Invalid request",
			Fields:  []models.FieldError{{Code: "invalid_body", Message: err.Error()}},
		})
		return
	}
	msg := schema.ParseMessage(body)
	if !msg.OK() {
		m.respondError(w, r, msg.Err("Invalid request"))
		return
	}

	chat, err := m.loadChat(r.Context(), userID, chatID)
	if err != nil {
		m.respondError(w, r, err)
		return
	}

	if chat.IsFlagged() {
		m.respondError(w, r, &models.ForbiddenError{Reason: "Chat is flagged"})
		return
	}

	messages := append(slices.Clone(chat.Messages), msg.Value)

	ctx := context.WithoutCancel(r.Context())
	outcome, err := m.pipeline.Run(ctx, messages, userID)
	if err != nil {
		m.metrics.ObserveRun(metrics.OutcomeFailed, 0)
		m.respondError(w, r, fmt.Errorf("failed to answer chat %s: %w", chatID, err))
		return
	}

	if err := answer.Save(ctx, m.store, userID, chatID, outcome, chat, messages); err != nil {
		m.metrics.ObserveRun(metrics.OutcomeFailed, 0)
		m.respondError(w, r, err)
		return
	}

	if outcome.IsFlagged {
		m.metrics.ObserveRun(metrics.OutcomeFlagged, outcome.ResponseTime)
		m.logger.Info("Message flagged",
			slog.String("chatID", chatID),
			slog.Int64("responseTime", outcome.ResponseTime.Milliseconds()))
	} else {
		m.metrics.ObserveRun(metrics.OutcomeAnswered, outcome.ResponseTime)
	}

	m.respondJSON(w, http.StatusOK, messageResponse{
		ResponseTime: outcome.ResponseTime.Milliseconds(),
		IsFlagged:    outcome.IsFlagged,
	})
}

func parseChatID(r *http.Request) (string, error) {
	res := schema.ParseChatID(chi.URLParam(r, "chatID"))
	if !res.OK() {
		return "", res.Err("Invalid request")
	}
	return res.Value, nil
}

// loadChat reads and parses a chat of the user. A stored document that doesn't have the chat shape
// is reported as a validation error rather than an internal one.
func (m Main) loadChat(ctx context.Context, userID, chatID string) (models.Chat, error) {
	doc, err := m.store.Get(ctx, models.ChatPath(userID, chatID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Chat{}, &models.NotFoundError{Resource: "Chat", ID: chatID}
		}
		return models.Chat{}, fmt.Errorf("failed to get chat %s: %w", chatID, err)
	}

	res := schema.ParseChat(doc)
	if !res.OK() {
		m.logger.Warn("Stored chat has an invalid shape",
			slog.String("chatID", chatID),
			slog.Any("errors", res.Errors))
		return models.Chat{}, res.Err("Invalid chat")
	}
	return res.Value, nil
}
