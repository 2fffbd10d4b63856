// Package session переносит непрозрачную сессионную cookie через границы
// процессов: веб-рендер пересылает её в API, API разрешает её в зрителя.
// Любая ошибка сессии деградирует до анонимного зрителя.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"feedhub/internal/domain"
	"feedhub/internal/infra/cache"
)

// DefaultCookie — имя cookie по умолчанию.
const DefaultCookie = "feed_session"

// Credential — пара имя/значение сессионной cookie.
type Credential struct {
	Name  string
	Value string
}

// Empty сообщает, что сессии нет.
func (c Credential) Empty() bool {
	return c.Value == ""
}

type credentialKey struct{}
type viewerKey struct{}

// FromRequest читает cookie сессии из входящего запроса.
func FromRequest(r *http.Request, cookieName string) Credential {
	if cookieName == "" {
		cookieName = DefaultCookie
	}
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return Credential{}
	}
	return Credential{Name: cookieName, Value: c.Value}
}

// WithCredential кладёт сессию в контекст исходящих запросов.
func WithCredential(ctx context.Context, c Credential) context.Context {
	if c.Empty() {
		return ctx
	}
	return context.WithValue(ctx, credentialKey{}, c)
}

// CredentialFrom достаёт сессию из контекста.
func CredentialFrom(ctx context.Context) (Credential, bool) {
	c, ok := ctx.Value(credentialKey{}).(Credential)
	return c, ok && !c.Empty()
}

// Apply добавляет сессию из контекста в исходящий запрос как заголовок Cookie.
func Apply(ctx context.Context, req *http.Request) {
	c, ok := CredentialFrom(ctx)
	if !ok {
		return
	}
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
}

// WithViewer кладёт id зрителя в контекст запроса.
func WithViewer(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, viewerKey{}, userID)
}

// ViewerFrom возвращает id зрителя; пустая строка — аноним.
func ViewerFrom(ctx context.Context) string {
	id, _ := ctx.Value(viewerKey{}).(string)
	return id
}

// Resolver разрешает токен в id пользователя.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// RepoResolver читает сессии из хранилища.
type RepoResolver struct {
	repo domain.SessionRepo
}

// NewRepoResolver создаёт резолвер поверх хранилища.
func NewRepoResolver(repo domain.SessionRepo) *RepoResolver {
	return &RepoResolver{repo: repo}
}

// Resolve реализует Resolver.
func (r *RepoResolver) Resolve(ctx context.Context, token string) (string, error) {
	s, err := r.repo.GetSession(ctx, token)
	if err != nil {
		return "", err
	}
	return s.UserID, nil
}

// CachedResolver кэширует успешные разрешения в Redis.
type CachedResolver struct {
	next  Resolver
	cache domain.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedResolver оборачивает резолвер кэшем.
func NewCachedResolver(next Resolver, c domain.Cache, ttl time.Duration, logger zerolog.Logger) *CachedResolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedResolver{next: next, cache: c, ttl: ttl, log: logger}
}

// Resolve реализует Resolver.
func (r *CachedResolver) Resolve(ctx context.Context, token string) (string, error) {
	key := cacheKey(token)
	val, err := r.cache.Get(ctx, key)
	switch {
	case err == nil && len(val) > 0:
		return string(val), nil
	case err != nil && !errors.Is(err, cache.ErrMiss):
		r.log.Warn().Err(err).Msg("session: cache unavailable")
	}
	userID, err := r.next.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	if err := r.cache.Set(ctx, key, []byte(userID), r.ttl); err != nil {
		r.log.Warn().Err(err).Msg("session: cache write failed")
	}
	return userID, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "session:" + hex.EncodeToString(sum[:])
}

// Middleware разрешает cookie сессии в зрителя. Отсутствующая, неизвестная
// или неразрешимая сессия даёт анонимного зрителя, а не ошибку.
func Middleware(cookieName string, resolver Resolver, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := FromRequest(r, cookieName)
			if cred.Empty() {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := resolver.Resolve(r.Context(), cred.Value)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					logger.Warn().Err(err).Msg("session: resolve failed, serving anonymous")
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), userID)))
		})
	}
}
