package schema_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/MegaGrindStone/chatrelay/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantPaths []string
		wantCodes []string
	}{
		{
			name: "Valid user message",
			body: `{"role":"user","content":"hello"}`,
		},
		{
			name: "Valid with optional fields",
			body: `{"role":"assistant","content":"hi","responseTime":120,"isFlagged":false}`,
		},
		{
			name: "Empty content is allowed",
			body: `{"role":"user","content":""}`,
		},
		{
			name:      "Missing role and content",
			body:      `{}`,
			wantPaths: []string{"role", "content"},
			wantCodes: []string{"required", "required"},
		},
		{
			name:      "Unknown role",
			body:      `{"role":"tool","content":"x"}`,
			wantPaths: []string{"role"},
			wantCodes: []string{"oneof"},
		},
		{
			name:      "Negative response time",
			body:      `{"role":"assistant","content":"x","responseTime":-1}`,
			wantPaths: []string{"responseTime"},
			wantCodes: []string{"gte"},
		},
		{
			name:      "Content of wrong type",
			body:      `{"role":"user","content":5}`,
			wantPaths: []string{"content"},
			wantCodes: []string{"invalid_type"},
		},
		{
			name:      "Malformed JSON",
			body:      `{"role":`,
			wantPaths: []string{""},
			wantCodes: []string{"invalid_json"},
		},
		{
			name:      "Empty body",
			body:      ``,
			wantPaths: []string{""},
			wantCodes: []string{"invalid_json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := schema.ParseMessage([]byte(tt.body))
			if len(tt.wantPaths) == 0 {
				require.True(t, res.OK(), "unexpected errors: %+v", res.Errors)
				require.NoError(t, res.Err("Invalid request"))
				return
			}

			require.False(t, res.OK())
			var paths, codes []string
			for _, fe := range res.Errors {
				paths = append(paths, fe.Path)
				codes = append(codes, fe.Code)
				assert.NotEmpty(t, fe.Message)
			}
			assert.ElementsMatch(t, tt.wantPaths, paths)
			assert.ElementsMatch(t, tt.wantCodes, codes)

			var verr *models.ValidationError
			require.ErrorAs(t, res.Err("Invalid request"), &verr)
			assert.Equal(t, "Invalid request", verr.Message)
			assert.Len(t, verr.Fields, len(tt.wantPaths))
		})
	}
}

func TestParseMessageDropsServerFields(t *testing.T) {
	res := schema.ParseMessage([]byte(`{"role":"user","content":"hello","isFlagged":true,"responseTime":7}`))
	require.True(t, res.OK())

	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "hello"}, res.Value)
	assert.False(t, res.Value.Flagged())
}

func TestParseChatID(t *testing.T) {
	assert.True(t, schema.ParseChatID("abcdefghij0123456789").OK())

	for _, id := range []string{"", "short", "abcdefghij0123456789x", "abcdefghij012345678-"} {
		res := schema.ParseChatID(id)
		require.False(t, res.OK(), id)
		assert.Equal(t, "chatId", res.Errors[0].Path)
	}
}

func TestParseChat(t *testing.T) {
	doc := models.Document{
		ID:   "abcdefghij0123456789",
		Path: "users/u1/chats/abcdefghij0123456789",
		Data: []byte(`{
			"title": "Chat #1",
			"isAnswering": true,
			"messages": [
				{"role": "user", "content": "hello"},
				{"role": "assistant", "content": "hi", "responseTime": 42}
			],
			"createdAt": "2024-03-01T10:00:00Z",
			"updatedAt": "2024-03-01T10:05:00.5Z"
		}`),
	}

	res := schema.ParseChat(doc)
	require.True(t, res.OK(), "unexpected errors: %+v", res.Errors)

	chat := res.Value
	assert.Equal(t, doc.ID, chat.ID)
	assert.Equal(t, "Chat #1", chat.Title)
	assert.True(t, chat.IsAnswering)
	require.Len(t, chat.Messages, 2)
	assert.Nil(t, chat.Messages[0].ResponseTime)
	assert.EqualValues(t, 42, *chat.Messages[1].ResponseTime)
	assert.True(t, chat.CreatedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestParseChatReportsShapeViolations(t *testing.T) {
	doc := models.Document{
		ID: "abcdefghij0123456789",
		Data: []byte(`{
			"isAnswering": false,
			"messages": [{"role": "robot", "content": "x"}],
			"createdAt": "2024-03-01T10:00:00Z",
			"updatedAt": "2024-03-01T10:00:00Z"
		}`),
	}

	res := schema.ParseChat(doc)
	require.False(t, res.OK())

	var paths []string
	for _, fe := range res.Errors {
		paths = append(paths, fe.Path)
	}
	assert.ElementsMatch(t, []string{"title", "messages[0].role"}, paths)
}

func TestParseNewChat(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		want     string
		wantPath string
		wantErr  bool
	}{
		{name: "empty body", body: ""},
		{name: "no title", body: `{}`},
		{name: "title", body: `{"title": "  Trip plans "}`, want: "Trip plans"},
		{name: "title too long", body: `{"title": "` + strings.Repeat("a", 201) + `"}`, wantErr: true, wantPath: "title"},
		{name: "title not a string", body: `{"title": 3}`, wantErr: true, wantPath: "title"},
		{name: "malformed", body: `{"title"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := schema.ParseNewChat([]byte(tt.body))
			if tt.wantErr {
				require.False(t, res.OK())
				assert.Equal(t, tt.wantPath, res.Errors[0].Path)
				return
			}
			require.True(t, res.OK(), "errors: %v", res.Errors)
			assert.Equal(t, tt.want, res.Value)
		})
	}
}
