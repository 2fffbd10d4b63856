package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feedhub/internal/domain"
	"feedhub/internal/infra/cache"
)

type stubResolver struct {
	users map[string]string
	err   error
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, token string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	id, ok := s.users[token]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

type mapCache struct {
	data map[string][]byte
	err  error
}

func (m *mapCache) Once(context.Context, string, time.Duration, func() error) error { return nil }

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func serve(t *testing.T, resolver Resolver, cookie *http.Cookie) string {
	t.Helper()
	var viewer string
	h := Middleware(DefaultCookie, resolver, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer = ViewerFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return viewer
}

func TestMiddlewareResolvesViewer(t *testing.T) {
	resolver := &stubResolver{users: map[string]string{"tok": "u1"}}
	if got := serve(t, resolver, &http.Cookie{Name: DefaultCookie, Value: "tok"}); got != "u1" {
		t.Fatalf("ожидали u1, получили %q", got)
	}
}

func TestMiddlewareDegradesToAnonymous(t *testing.T) {
	resolver := &stubResolver{users: map[string]string{}}
	if got := serve(t, resolver, nil); got != "" || resolver.calls != 0 {
		t.Fatalf("без cookie ожидали анонима без обращения к резолверу")
	}
	if got := serve(t, resolver, &http.Cookie{Name: DefaultCookie, Value: "unknown"}); got != "" {
		t.Fatalf("ожидали анонима для неизвестной сессии, получили %q", got)
	}
	resolver.err = errors.New("db down")
	if got := serve(t, resolver, &http.Cookie{Name: DefaultCookie, Value: "tok"}); got != "" {
		t.Fatalf("ожидали анонима при сбое, получили %q", got)
	}
}

func TestApplyForwardsCookie(t *testing.T) {
	incoming := httptest.NewRequest(http.MethodGet, "/", nil)
	incoming.AddCookie(&http.Cookie{Name: "custom", Value: "secret"})
	cred := FromRequest(incoming, "custom")

	out := httptest.NewRequest(http.MethodGet, "http://api/feed", nil)
	Apply(WithCredential(context.Background(), cred), out)
	c, err := out.Cookie("custom")
	if err != nil || c.Value != "secret" {
		t.Fatalf("ожидали пересланную cookie, получили %v %v", c, err)
	}

	plain := httptest.NewRequest(http.MethodGet, "http://api/feed", nil)
	Apply(WithCredential(context.Background(), Credential{}), plain)
	if plain.Header.Get("Cookie") != "" {
		t.Fatalf("без сессии cookie не ожидали")
	}
}

func TestCachedResolverHitsCache(t *testing.T) {
	next := &stubResolver{users: map[string]string{"tok": "u1"}}
	c := &mapCache{data: map[string][]byte{}}
	r := NewCachedResolver(next, c, time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(context.Background(), "tok")
		if err != nil || id != "u1" {
			t.Fatalf("ожидали u1, получили %q %v", id, err)
		}
	}
	if next.calls != 1 {
		t.Fatalf("ожидали одно обращение к хранилищу, получили %d", next.calls)
	}

	c.err = errors.New("redis down")
	if id, err := r.Resolve(context.Background(), "tok"); err != nil || id != "u1" {
		t.Fatalf("при недоступном кэше ожидали обход в хранилище, получили %q %v", id, err)
	}
}
