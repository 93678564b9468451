package answer

import (
	"context"
	"errors"
	"slices"

	"github.com/MegaGrindStone/chatrelay/internal/models"
)

// Updater applies a field-level update to a single document atomically.
type Updater interface {
	Update(ctx context.Context, path string, fields map[string]any) error
}

// Save writes the outcome of a run back to the chat in one update. messages is the conversation
// the run answered, including the new user message; prior is the chat as loaded before the run.
//
// A flagged outcome marks the last message as flagged and leaves the title alone. Otherwise the
// answer is appended as an assistant message, and the title is replaced only when the run
// generated one. Both clear isAnswering. If the update fails, isAnswering keeps whatever value
// the client set.
func Save(
	ctx context.Context,
	db Updater,
	userID, chatID string,
	outcome models.Outcome,
	prior models.Chat,
	messages []models.Message,
) error {
	if len(messages) == 0 {
		return &models.PersistenceError{Op: "save answer", Err: errors.New("no messages")}
	}

	msgs := slices.Clone(messages)
	fields := map[string]any{
		models.FieldIsAnswering: false,
		models.FieldUpdatedAt:   models.ServerTimestamp,
	}

	if outcome.IsFlagged {
		msgs[len(msgs)-1] = msgs[len(msgs)-1].Flag()
	} else {
		msgs = append(msgs, models.NewAssistantMessage(outcome.Content, outcome.ResponseTime))
		title := prior.Title
		if outcome.Title != "" {
			title = outcome.Title
		}
		fields[models.FieldTitle] = title
	}
	fields[models.FieldMessages] = msgs

	if err := db.Update(ctx, models.ChatPath(userID, chatID), fields); err != nil {
		return &models.PersistenceError{Op: "save answer", Err: err}
	}
	return nil
}
