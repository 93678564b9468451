package models

import "time"

// Message is one turn of a chat. Messages are immutable once appended, except for the flag set
// by moderation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ResponseTime is the time in milliseconds it took to produce an assistant message.
	ResponseTime *int64 `json:"responseTime,omitempty"`
	// IsFlagged is set on a user message that moderation classified as violating content policy.
	IsFlagged *bool `json:"isFlagged,omitempty"`
}

// CompletionMessage is the part of a Message that is sent to the language model provider.
type CompletionMessage struct {
	Role    Role
	Content string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message written by the chat owner.
	RoleUser Role = "user"
	// RoleAssistant represents a message generated by the language model.
	RoleAssistant Role = "assistant"
	// RoleSystem represents an instruction to the language model.
	RoleSystem Role = "system"
)

// Flagged reports whether the message was flagged by moderation.
func (m Message) Flagged() bool {
	return m.IsFlagged != nil && *m.IsFlagged
}

// Flag returns a copy of the message with the moderation flag set.
func (m Message) Flag() Message {
	flagged := true
	m.IsFlagged = &flagged
	return m
}

// Completion strips the message down to what the language model provider needs.
func (m Message) Completion() CompletionMessage {
	return CompletionMessage{Role: m.Role, Content: m.Content}
}

// NewAssistantMessage creates an assistant message with its response time.
func NewAssistantMessage(content string, responseTime time.Duration) Message {
	ms := responseTime.Milliseconds()
	return Message{
		Role:         RoleAssistant,
		Content:      content,
		ResponseTime: &ms,
	}
}
