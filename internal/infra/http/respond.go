package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"feedhub/internal/domain"
)

// Машинные коды ошибок API.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeNotFound        = "not_found"
	CodeInvalid         = "invalid_request"
	CodeForbidden       = "forbidden"
	CodeConflict        = "conflict"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON отправляет значение как JSON.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// StatusFor сопоставляет доменную ошибку со статусом и кодом.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthenticated
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, CodeInvalid
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// ErrorFor сопоставляет статус и код ответа с доменной ошибкой.
func ErrorFor(status int, code string) error {
	switch {
	case status == http.StatusUnauthorized || code == CodeUnauthenticated:
		return domain.ErrUnauthenticated
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusBadRequest:
		return domain.ErrValidation
	case status == http.StatusForbidden:
		return domain.ErrForbidden
	case status == http.StatusConflict:
		return domain.ErrConflict
	default:
		return domain.ErrTransient
	}
}
