package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/MegaGrindStone/chatrelay/internal/schema"
	"github.com/go-chi/chi/v5"
)

type createChatResponse struct {
	ID string `json:"id"`
}

type chatsResponse struct {
	Chats []models.Chat `json:"chats"`
}

// chatsQuery is the view of a user's chats served by the list endpoint and the events stream.
func chatsQuery(limit int) models.Query {
	return models.Query{
		OrderBy:    models.FieldUpdatedAt,
		Descending: true,
		Limit:      limit,
	}
}

// HandleCreateChat creates an empty chat. The request body is optional; without a title the chat
// is named after its position, "Chat #N". Responds 201 with the new chat ID.
func (m Main) HandleCreateChat(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		m.respondError(w, r, &models.ValidationError{
			Message: "Invalid request",
			Fields:  []models.FieldError{{Code: "invalid_body", Message: err.Error()}},
		})
		return
	}
	req := schema.ParseNewChat(body)
	if !req.OK() {
		m.respondError(w, r, req.Err("Invalid request"))
		return
	}

	title := req.Value
	if title == "" {
		existing, err := m.store.List(r.Context(), models.ChatsPath(userID), models.Query{})
		if err != nil {
			m.respondError(w, r, fmt.Errorf("failed to count chats: %w", err))
			return
		}
		title = fmt.Sprintf("Chat #%d", len(existing)+1)
	}

	chatID, err := m.store.Add(r.Context(), models.ChatsPath(userID), map[string]any{
		models.FieldTitle:       title,
		models.FieldIsAnswering: false,
		models.FieldMessages:    []models.Message{},
		models.FieldCreatedAt:   models.ServerTimestamp,
		models.FieldUpdatedAt:   models.ServerTimestamp,
	})
	if err != nil {
		m.respondError(w, r, &models.PersistenceError{Op: "create chat", Err: err})
		return
	}

	m.respondJSON(w, http.StatusCreated, createChatResponse{ID: chatID})
}

// HandleListChats lists the user's chats, most recently updated first. The optional limit query
// parameter defaults to 100.
func (m Main) HandleListChats(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	limit := defaultChatsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxChatsLimit {
			m.respondError(w, r, &models.ValidationError{
				Message: "Invalid request",
				Fields: []models.FieldError{{
					Path:    "limit",
					Code:    "range",
					Message: fmt.Sprintf("must be a number between 1 and %d", maxChatsLimit),
				}},
			})
			return
		}
		limit = n
	}

	docs, err := m.store.List(r.Context(), models.ChatsPath(userID), chatsQuery(limit))
	if err != nil {
		m.respondError(w, r, fmt.Errorf("failed to list chats: %w", err))
		return
	}

	m.respondJSON(w, http.StatusOK, chatsResponse{Chats: m.parseChats(docs)})
}

// parseChats skips documents that don't have the chat shape, so one corrupt chat doesn't hide the
// others.
func (m Main) parseChats(docs []models.Document) []models.Chat {
	chats := make([]models.Chat, 0, len(docs))
	for _, doc := range docs {
		res := schema.ParseChat(doc)
		if !res.OK() {
			m.logger.Warn("Skipping chat with an invalid shape",
				slog.String("path", doc.Path),
				slog.Any("errors", res.Errors))
			continue
		}
		chats = append(chats, res.Value)
	}
	return chats
}

// HandleGetChat responds with one chat of the user.
func (m Main) HandleGetChat(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	chatID, err := parseChatID(r)
	if err != nil {
		m.respondError(w, r, err)
		return
	}

	chat, err := m.loadChat(r.Context(), userID, chatID)
	if err != nil {
		m.respondError(w, r, err)
		return
	}

	m.respondJSON(w, http.StatusOK, chat)
}

// HandleDeleteChat deletes a chat of the user. Deleting a chat that doesn't exist succeeds.
func (m Main) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	chatID, err := parseChatID(r)
	if err != nil {
		m.respondError(w, r, err)
		return
	}

	if err := m.store.Delete(r.Context(), models.ChatPath(userID, chatID)); err != nil {
		m.respondError(w, r, &models.PersistenceError{Op: "delete chat", Err: err})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteMessage removes the message at the given index from a chat's history. Flagged chats
// are locked, so none of their messages can be removed.
func (m Main) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	chatID, err := parseChatID(r)
	if err != nil {
		m.respondError(w, r, err)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		m.respondError(w, r, &models.ValidationError{
			Message: "Invalid request",
			Fields: []models.FieldError{{
				Path:    "index",
				Code:    "gte",
				Message: "must be a non-negative number",
			}},
		})
		return
	}

	chat, err := m.loadChat(r.Context(), userID, chatID)
	if err != nil {
		m.respondError(w, r, err)
		return
	}
	// Removing the flagged message would unlock the chat.
	if chat.IsFlagged() {
		m.respondError(w, r, &models.ForbiddenError{Reason: "Chat is flagged"})
		return
	}
	if index >= len(chat.Messages) {
		m.respondError(w, r, &models.NotFoundError{Resource: "Message", ID: strconv.Itoa(index)})
		return
	}

	messages := slices.Delete(slices.Clone(chat.Messages), index, index+1)
	err = m.store.Update(r.Context(), models.ChatPath(userID, chatID), map[string]any{
		models.FieldMessages:  messages,
		models.FieldUpdatedAt: models.ServerTimestamp,
	})
	if err != nil {
		m.respondError(w, r, &models.PersistenceError{Op: "delete message", Err: err})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
