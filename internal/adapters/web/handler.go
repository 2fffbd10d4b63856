// Package web отдаёт первую отрисовку страницы с предзагруженными лентами.
package web

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	httpinfra "feedhub/internal/infra/http"
	"feedhub/internal/infra/session"
	"feedhub/internal/usecase/prefetch"
)

// Prefetcher собирает начальное состояние.
type Prefetcher interface {
	Initial(ctx context.Context, cred session.Credential) prefetch.State
}

var page = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>feedhub</title></head>
<body>
<div id="app"></div>
<script>window.__INITIAL_STATE__ = JSON.parse({{.}});</script>
</body>
</html>
`))

// Handler связывает страницу с сервисом предзагрузки.
type Handler struct {
	log      zerolog.Logger
	prefetch Prefetcher
	cookie   string
}

// NewHandler создаёт обработчик. cookie — имя сессионной cookie.
func NewHandler(p Prefetcher, cookie string, logger zerolog.Logger) *Handler {
	return &Handler{log: logger, prefetch: p, cookie: cookie}
}

// Mount регистрирует маршруты страницы.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/", h.page)
	r.Get("/initial-state", h.state)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	state := h.prefetch.Initial(r.Context(), session.FromRequest(r, h.cookie))
	httpinfra.WriteJSON(w, http.StatusOK, state)
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	state := h.prefetch.Initial(r.Context(), session.FromRequest(r, h.cookie))
	raw, err := json.Marshal(state)
	if err != nil {
		h.log.Error().Err(err).Msg("web: не удалось сериализовать состояние")
		httpinfra.WriteError(w, http.StatusInternalServerError, httpinfra.CodeInternal, http.StatusText(http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Execute(w, string(raw)); err != nil {
		h.log.Error().Err(err).Msg("web: не удалось отрисовать страницу")
	}
}
