package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by document stores when the addressed document does not exist.
var ErrNotFound = errors.New("document not found")

// FieldError describes one violation found while parsing a request or a stored document.
type FieldError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthError is returned when the caller's credential is missing or cannot be verified.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthenticated: %s: %v", e.Reason, e.Err)
	}
	return "unauthenticated: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError is returned when a request or a stored document does not have the expected
// shape. Fields lists every violation found.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %d field error(s)", e.Message, len(e.Fields))
}

// NotFoundError is returned when the addressed resource does not exist in the caller's namespace.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ForbiddenError is returned when the caller may not act on an existing resource, such as a chat
// locked by a flagged message.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// ProviderError wraps a failure of an upstream language model provider, whether a transport
// failure or a malformed response.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// EmptyCompletionError is returned when a completion provider answers without any candidate
// message.
type EmptyCompletionError struct {
	Provider string
	Model    string
}

func (e *EmptyCompletionError) Error() string {
	return fmt.Sprintf("no answer from %s model %s", e.Provider, e.Model)
}

// PersistenceError wraps a failed write to the document store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
