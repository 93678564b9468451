package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/go-chi/chi/v5/middleware"
)

type errorResponse struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Errors  []models.FieldError `json:"errors,omitempty"`
}

func (m Main) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("Failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}

// respondError maps err onto a status code and a response body. Only validation field lists and
// fixed messages reach the client; every other cause is logged and answered with a generic 500.
func (m Main) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authErr      *models.AuthError
		validErr     *models.ValidationError
		notFoundErr  *models.NotFoundError
		forbiddenErr *models.ForbiddenError
	)

	switch {
	case errors.As(err, &authErr):
		m.respondJSON(w, http.StatusUnauthorized, errorResponse{
			Code:    "unauthenticated",
			Message: authErr.Reason,
		})
	case errors.As(err, &validErr):
		m.respondJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "validation",
			Message: validErr.Message,
			Errors:  validErr.Fields,
		})
	case errors.As(err, &notFoundErr):
		m.respondJSON(w, http.StatusNotFound, errorResponse{
			Code:    "not_found",
			Message: notFoundErr.Resource + " not found",
		})
	case errors.As(err, &forbiddenErr):
		m.respondJSON(w, http.StatusForbidden, errorResponse{
			Code:    "forbidden",
			Message: forbiddenErr.Reason,
		})
	default:
		m.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("requestID", middleware.GetReqID(r.Context())),
			slog.String(errLoggerKey, err.Error()))
		m.respondJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    "internal",
			Message: http.StatusText(http.StatusInternalServerError),
		})
	}
}
