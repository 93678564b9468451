package services_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/MegaGrindStone/chatrelay/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBolt(t *testing.T) services.BoltDB {
	t.Helper()

	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func decodeFields(t *testing.T, doc models.Document) map[string]any {
	t.Helper()

	var fields map[string]any
	require.NoError(t, json.Unmarshal(doc.Data, &fields))
	return fields
}

func TestBoltDBAddGet(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	id, err := db.Add(ctx, models.ChatsPath("u1"), map[string]any{
		models.FieldTitle:     "Chat #1",
		models.FieldMessages:  []models.Message{},
		models.FieldCreatedAt: models.ServerTimestamp,
	})
	require.NoError(t, err)
	assert.Len(t, id, models.ChatIDLength)
	assert.Regexp(t, `^[A-Za-z0-9]+$`, id)

	doc, err := db.Get(ctx, models.ChatPath("u1", id))
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, models.ChatPath("u1", id), doc.Path)

	fields := decodeFields(t, doc)
	assert.Equal(t, "Chat #1", fields[models.FieldTitle])
	createdAt, ok := fields[models.FieldCreatedAt].(string)
	require.True(t, ok, "server timestamp must be resolved")
	_, err = time.Parse(time.RFC3339Nano, createdAt)
	require.NoError(t, err)
}

func TestBoltDBGetNotFound(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	_, err := db.Get(ctx, models.ChatPath("u1", "missing"))
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, db.Set(ctx, models.ChatPath("u1", "a"), map[string]any{"title": "x"}))
	_, err = db.Get(ctx, models.ChatPath("u1", "b"))
	require.ErrorIs(t, err, models.ErrNotFound)

	// Chats of another user live in another collection.
	_, err = db.Get(ctx, models.ChatPath("u2", "a"))
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestBoltDBInvalidPaths(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()

	_, err := db.Get(ctx, "users/u1/chats")
	require.Error(t, err)

	_, err = db.Add(ctx, "users/u1", map[string]any{})
	require.Error(t, err)

	err = db.Set(ctx, "users//chats/a", map[string]any{})
	require.Error(t, err)
}

func TestBoltDBUpdateMergesFields(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()
	path := models.ChatPath("u1", "chat1")

	require.NoError(t, db.Set(ctx, path, map[string]any{
		models.FieldTitle:       "Chat #1",
		models.FieldIsAnswering: true,
	}))

	require.NoError(t, db.Update(ctx, path, map[string]any{
		models.FieldIsAnswering: false,
		models.FieldMessages:    []models.Message{{Role: models.RoleUser, Content: "Hi"}},
	}))

	doc, err := db.Get(ctx, path)
	require.NoError(t, err)
	fields := decodeFields(t, doc)
	assert.Equal(t, "Chat #1", fields[models.FieldTitle])
	assert.Equal(t, false, fields[models.FieldIsAnswering])
	assert.Len(t, fields[models.FieldMessages], 1)
}

func TestBoltDBUpdateNotFound(t *testing.T) {
	db := newTestBolt(t)

	err := db.Update(context.Background(), models.ChatPath("u1", "missing"), map[string]any{"title": "x"})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestBoltDBDelete(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()
	path := models.ChatPath("u1", "chat1")

	require.NoError(t, db.Set(ctx, path, map[string]any{"title": "x"}))
	require.NoError(t, db.Delete(ctx, path))

	_, err := db.Get(ctx, path)
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, db.Delete(ctx, path), "deleting a missing document succeeds")
}

func TestBoltDBListQuery(t *testing.T) {
	db := newTestBolt(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.Set(ctx, models.ChatPath("u1", id), map[string]any{
			models.FieldTitle:       id,
			models.FieldIsAnswering: i%2 == 0,
			models.FieldUpdatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, db.Set(ctx, models.ChatPath("u1", "no-time"), map[string]any{
		models.FieldTitle: "no-time",
	}))
	require.NoError(t, db.Set(ctx, models.ChatPath("u2", "z"), map[string]any{
		models.FieldTitle:     "z",
		models.FieldUpdatedAt: base,
	}))

	titles := func(docs []models.Document) []string {
		var res []string
		for _, d := range docs {
			res = append(res, decodeFields(t, d)[models.FieldTitle].(string))
		}
		return res
	}

	tests := []struct {
		name  string
		query models.Query
		want  []string
	}{
		{
			name:  "order descending",
			query: models.Query{OrderBy: models.FieldUpdatedAt, Descending: true},
			want:  []string{"d", "c", "b", "a"},
		},
		{
			name:  "order ascending with limit",
			query: models.Query{OrderBy: models.FieldUpdatedAt, Limit: 2},
			want:  []string{"a", "b"},
		},
		{
			name: "filter equality",
			query: models.Query{
				OrderBy: models.FieldUpdatedAt,
				Where:   []models.Filter{{Field: models.FieldIsAnswering, Op: "==", Value: true}},
			},
			want: []string{"a", "c"},
		},
		{
			name: "filter on time",
			query: models.Query{
				OrderBy:    models.FieldUpdatedAt,
				Descending: true,
				Where: []models.Filter{
					{Field: models.FieldUpdatedAt, Op: ">=", Value: base.Add(2 * time.Minute)},
				},
			},
			want: []string{"d", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := db.List(ctx, models.ChatsPath("u1"), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(docs))
		})
	}

	t.Run("no order keeps every document", func(t *testing.T) {
		docs, err := db.List(ctx, models.ChatsPath("u1"), models.Query{})
		require.NoError(t, err)
		assert.Len(t, docs, 5)
	})

	t.Run("unknown operator", func(t *testing.T) {
		_, err := db.List(ctx, models.ChatsPath("u1"), models.Query{
			Where: []models.Filter{{Field: models.FieldTitle, Op: "in", Value: "a"}},
		})
		require.Error(t, err)
	})

	t.Run("empty collection", func(t *testing.T) {
		docs, err := db.List(ctx, models.ChatsPath("u3"), models.Query{})
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestBoltDBWatch(t *testing.T) {
	db := newTestBolt(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, db.Set(ctx, models.ChatPath("u1", "a"), map[string]any{
		models.FieldTitle:     "first",
		models.FieldUpdatedAt: models.ServerTimestamp,
	}))

	snapshots := make(chan models.CollectionSnapshot)
	done := make(chan struct{})
	go func() {
		defer close(done)
		q := models.Query{OrderBy: models.FieldUpdatedAt, Descending: true}
		for snap, err := range db.Watch(ctx, models.ChatsCollection, q) {
			if err != nil {
				t.Errorf("Watch() error = %v", err)
				return
			}
			select {
			case snapshots <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()

	next := func() models.CollectionSnapshot {
		select {
		case snap := <-snapshots:
			return snap
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for snapshot")
			return models.CollectionSnapshot{}
		}
	}

	initial := next()
	assert.Equal(t, models.ChatsPath("u1"), initial.Path)
	assert.Len(t, initial.Docs, 1)

	require.NoError(t, db.Set(ctx, models.ChatPath("u2", "b"), map[string]any{
		models.FieldTitle:     "second",
		models.FieldUpdatedAt: models.ServerTimestamp,
	}))

	changed := next()
	assert.Equal(t, models.ChatsPath("u2"), changed.Path)
	require.Len(t, changed.Docs, 1)
	assert.Equal(t, "b", changed.Docs[0].ID)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop after cancellation")
	}
}
