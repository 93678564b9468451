package models

import (
	"fmt"
	"slices"
	"time"
)

// ChatIDLength is the length of every chat identifier. It matches the length of Firestore
// auto-generated document IDs, and the bolt store generates IDs of the same shape.
const ChatIDLength = 20

// Chat document field names, as stored in the document database.
const (
	FieldTitle       = "title"
	FieldIsAnswering = "isAnswering"
	FieldMessages    = "messages"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
)

// ChatsCollection is the name of the per-user collection that holds chat documents.
const ChatsCollection = "chats"

// Chat represents a conversation owned by a single user. Chats are stored under the owner's
// namespace and are never shared.
//
// IsAnswering is true while an answer is being generated for the chat. It is set by the client
// before a pipeline run starts and cleared when the run's result is written back.
type Chat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	IsAnswering bool      `json:"isAnswering"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsFlagged reports whether any message of the chat was flagged by moderation. A flagged chat is
// locked and accepts no further messages.
func (c Chat) IsFlagged() bool {
	return slices.ContainsFunc(c.Messages, Message.Flagged)
}

// Outcome is the result of one answer pipeline run.
type Outcome struct {
	// Content is the rendered answer, or a fixed warning if the last message was flagged.
	Content string
	// Title is the generated chat title. It is empty unless the run answered the first message.
	Title        string
	ResponseTime time.Duration
	IsFlagged    bool
}

// UserPath returns the document path of a user.
func UserPath(userID string) string {
	return fmt.Sprintf("users/%s", userID)
}

// ChatsPath returns the collection path holding the chats of a user.
func ChatsPath(userID string) string {
	return fmt.Sprintf("%s/%s", UserPath(userID), ChatsCollection)
}

// ChatPath returns the document path of a single chat.
func ChatPath(userID, chatID string) string {
	return fmt.Sprintf("%s/%s", ChatsPath(userID), chatID)
}
