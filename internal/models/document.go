package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Sentinel is a placeholder value that document stores replace while writing.
type Sentinel int

// ServerTimestamp is replaced by the store's current time when the document is written.
const ServerTimestamp Sentinel = 1

// Document is a single stored document. Data holds the document fields as a JSON object.
type Document struct {
	ID   string
	Path string
	Data json.RawMessage
}

// CollectionSnapshot is the full content of one collection at a point in time, after applying
// a Query.
type CollectionSnapshot struct {
	Path string
	Docs []Document
}

// Filter restricts a Query to documents whose top-level Field compares to Value with Op. Op is
// one of ==, !=, <, <=, >, >=.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Query describes which documents of a collection are returned and in which order. A zero
// Limit means no limit.
type Query struct {
	OrderBy    string
	Descending bool
	Limit      int
	Where      []Filter
}

// SplitDocumentPath splits a document path into its collection path and document ID. Document
// paths have an even number of segments, such as users/{userID}/chats/{chatID}.
func SplitDocumentPath(path string) (string, string, error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments)%2 != 0 || slices.Contains(segments, "") {
		return "", "", fmt.Errorf("invalid document path %q", path)
	}
	idx := strings.LastIndex(path, "/")
	return path[:idx], path[idx+1:], nil
}

// ValidateCollectionPath checks that path addresses a collection: an odd number of non-empty
// segments.
func ValidateCollectionPath(path string) error {
	segments := strings.Split(path, "/")
	if len(segments)%2 != 1 || slices.Contains(segments, "") {
		return fmt.Errorf("invalid collection path %q", path)
	}
	return nil
}

// OwnerOfChats returns the user ID owning a chats collection path, as produced by ChatsPath.
func OwnerOfChats(collectionPath string) (string, bool) {
	segments := strings.Split(collectionPath, "/")
	if len(segments) != 3 || segments[0] != "users" || segments[2] != ChatsCollection {
		return "", false
	}
	return segments[1], true
}
