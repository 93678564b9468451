package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chatrelay/internal/models"
)

type contextKey int

const userIDKey contextKey = iota

// tokenExtractor pulls the raw bearer token out of a request. It returns an AuthError when the
// credential is missing or malformed.
type tokenExtractor func(r *http.Request) (string, error)

func bearerFromHeader(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &models.AuthError{Reason: "No authorization header provided with bearer token."}
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", &models.AuthError{Reason: `No JWT provided in authorization header. Format: "Bearer <JWT>"`}
	}
	return token, nil
}

// bearerFromQuery accepts the token from the access_token query parameter as well, since
// browsers can't set headers on an EventSource.
func bearerFromQuery(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return bearerFromHeader(r)
}

// authenticate verifies the caller's bearer credential and stores its identity in the request
// context. Nothing downstream runs for an unauthenticated request.
func (m Main) authenticate(extract tokenExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extract(r)
			if err != nil {
				m.respondError(w, r, err)
				return
			}

			userID, err := m.verifier.Verify(r.Context(), token)
			if err != nil {
				m.respondError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated identity of the request, or an empty string for
// unauthenticated requests.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
