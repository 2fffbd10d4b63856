// Package httpapi — HTTP API ленты и мутаций.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"feedhub/internal/domain"
	httpinfra "feedhub/internal/infra/http"
	"feedhub/internal/infra/session"
	"feedhub/internal/usecase/follows"
	"feedhub/internal/usecase/posts"
)

const maxBodyBytes = 1 << 20

// FeedQuerier отдаёт страницы ленты.
type FeedQuerier interface {
	Query(ctx context.Context, viewerID string, key domain.ViewKey) (domain.Page, error)
}

// Searcher ищет посты.
type Searcher interface {
	Search(ctx context.Context, viewerID, text string, limit int) ([]domain.PostSummary, error)
}

// API связывает маршруты с use case сервисами.
type API struct {
	feed    FeedQuerier
	posts   *posts.Service
	follows *follows.Service
	search  Searcher
	log     zerolog.Logger
}

// New создаёт API.
func New(feed FeedQuerier, postService *posts.Service, followService *follows.Service, searcher Searcher, logger zerolog.Logger) *API {
	return &API{feed: feed, posts: postService, follows: followService, search: searcher, log: logger}
}

// Mount регистрирует маршруты /api/v1. auth кладёт зрителя в контекст.
func (a *API) Mount(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}
		r.Get("/feed", a.getFeed)
		r.Get("/search", a.getSearch)

		r.Post("/posts", a.createPost)
		r.Get("/posts/{slug}", a.getPost)
		r.Put("/posts/{id}/image", a.putImage)
		r.Post("/posts/{id}/like", a.like(true))
		r.Delete("/posts/{id}/like", a.like(false))

		r.Get("/tags/{name}", a.getTag)
		r.Post("/tags/{name}/follow", a.followTag(true))
		r.Delete("/tags/{name}/follow", a.followTag(false))

		r.Post("/users/{id}/follow", a.followUser(true))
		r.Delete("/users/{id}/follow", a.followUser(false))
	})
}

func (a *API) getFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := domain.ParseFeedKind(q.Get("kind"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	window, err := domain.ParseWindow(q.Get("window"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	key := domain.ViewKey{Kind: kind, Window: window, Cursor: q.Get("cursor")}
	page, err := a.feed.Query(r.Context(), session.ViewerFrom(r.Context()), key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, page)
}

func (a *API) getSearch(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.fail(w, r, fmt.Errorf("%w: invalid limit", domain.ErrValidation))
			return
		}
		limit = n
	}
	items, err := a.search.Search(r.Context(), session.ViewerFrom(r.Context()), r.URL.Query().Get("q"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createPost(w http.ResponseWriter, r *http.Request) {
	var params posts.CreateParams
	if err := decode(r, &params); err != nil {
		a.fail(w, r, err)
		return
	}
	post, err := a.posts.Create(r.Context(), session.ViewerFrom(r.Context()), params)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, post)
}

func (a *API) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := a.posts.Get(r.Context(), session.ViewerFrom(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, post)
}

type imageRequest struct {
	ImageURL string `json:"imageUrl"`
}

func (a *API) putImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	post, err := a.posts.UpdateImage(r.Context(), session.ViewerFrom(r.Context()), chi.URLParam(r, "id"), req.ImageURL)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, post)
}

func (a *API) like(liked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer := session.ViewerFrom(r.Context())
		postID := chi.URLParam(r, "id")
		var (
			state domain.LikeState
			err   error
		)
		if liked {
			state, err = a.posts.Like(r.Context(), viewer, postID)
		} else {
			state, err = a.posts.Unlike(r.Context(), viewer, postID)
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, state)
	}
}

func (a *API) getTag(w http.ResponseWriter, r *http.Request) {
	info, err := a.follows.Tag(r.Context(), session.ViewerFrom(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, info)
}

func (a *API) followTag(follow bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer := session.ViewerFrom(r.Context())
		name := chi.URLParam(r, "name")
		var (
			info domain.TagInfo
			err  error
		)
		if follow {
			info, err = a.follows.FollowTag(r.Context(), viewer, name)
		} else {
			info, err = a.follows.UnfollowTag(r.Context(), viewer, name)
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, info)
	}
}

func (a *API) followUser(follow bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer := session.ViewerFrom(r.Context())
		authorID := chi.URLParam(r, "id")
		var err error
		if follow {
			err = a.follows.FollowUser(r.Context(), viewer, authorID)
		} else {
			err = a.follows.UnfollowUser(r.Context(), viewer, authorID)
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := httpinfra.StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Str("path", r.URL.Path).Msg("api: request failed")
		msg = http.StatusText(status)
	}
	httpinfra.WriteError(w, status, code, msg)
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	return nil
}
