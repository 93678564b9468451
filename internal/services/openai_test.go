package services_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/MegaGrindStone/chatrelay/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAI(t *testing.T, handler http.Handler) services.OpenAI {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return services.NewOpenAI(services.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOpenAIComplete(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		User     string `json:"user"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"gpt-3.5-turbo","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"}}]}`))
	})
	o := newTestOpenAI(t, mux)

	answer, err := o.Complete(context.Background(), []models.CompletionMessage{
		{Role: models.RoleSystem, Content: "be nice"},
		{Role: models.RoleUser, Content: "Hello"},
	}, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", answer)

	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	assert.Equal(t, "u1", got.User)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Hello", got.Messages[1].Content)
}

func TestOpenAICompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "api error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			},
			check: func(t *testing.T, err error) {
				var perr *models.ProviderError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, "openai", perr.Provider)
			},
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"c1","choices":[]}`))
			},
			check: func(t *testing.T, err error) {
				var eerr *models.EmptyCompletionError
				require.ErrorAs(t, err, &eerr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOpenAI(t, tt.handler)
			_, err := o.Complete(context.Background(), []models.CompletionMessage{
				{Role: models.RoleUser, Content: "Hello"},
			}, "u1")
			tt.check(t, err)
		})
	}
}

func TestOpenAIModerate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    bool
		wantErr bool
	}{
		{
			name: "flagged",
			body: `{"id":"m1","model":"text-moderation-latest","results":[{"flagged":true}]}`,
			want: true,
		},
		{
			name: "clean",
			body: `{"id":"m1","model":"text-moderation-latest","results":[{"flagged":false}]}`,
			want: false,
		},
		{
			name:    "no results",
			body:    `{"id":"m1","results":[]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var input string
			mux := http.NewServeMux()
			mux.HandleFunc("/v1/moderations", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Input string `json:"input"`
				}
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				input = req.Input

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})
			o := newTestOpenAI(t, mux)

			flagged, err := o.Moderate(context.Background(), "some text")
			if tt.wantErr {
				var perr *models.ProviderError
				require.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, flagged)
			assert.Equal(t, "some text", input)
		})
	}
}
