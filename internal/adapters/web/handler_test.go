package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"feedhub/internal/domain"
	"feedhub/internal/infra/session"
	"feedhub/internal/usecase/prefetch"
)

type stubPrefetcher struct {
	mu  sync.Mutex
	got session.Credential
}

func (p *stubPrefetcher) credential() session.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.got
}

func (p *stubPrefetcher) Initial(_ context.Context, cred session.Credential) prefetch.State {
	p.mu.Lock()
	p.got = cred
	p.mu.Unlock()
	return prefetch.State{
		Views:               map[string]domain.Page{"global": {Items: []domain.PostSummary{{ID: "p1", Title: "</script><b>x</b>"}}}},
		ViewerAuthenticated: !cred.Empty(),
	}
}

func newServer(p Prefetcher) *httptest.Server {
	r := chi.NewRouter()
	NewHandler(p, "feed_session", zerolog.Nop()).Mount(r)
	return httptest.NewServer(r)
}

func TestInitialStateForwardsCookie(t *testing.T) {
	p := &stubPrefetcher{}
	ts := newServer(p)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/initial-state", nil)
	req.AddCookie(&http.Cookie{Name: "feed_session", Value: "tok"})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	defer resp.Body.Close()

	if got := p.credential(); got.Value != "tok" {
		t.Fatalf("cookie не передана, получили %+v", got)
	}
	var state prefetch.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	if !state.ViewerAuthenticated || len(state.Views["global"].Items) != 1 {
		t.Fatalf("неожиданное состояние: %+v", state)
	}
}

func TestPageWithoutCookieIsAnonymous(t *testing.T) {
	p := &stubPrefetcher{}
	ts := newServer(p)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if got := p.credential(); !got.Empty() {
		t.Fatalf("ожидали пустую сессию, получили %+v", got)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	html := string(body)
	if !strings.Contains(html, "__INITIAL_STATE__") {
		t.Fatalf("состояние не встроено в страницу")
	}
	if strings.Contains(html, "</script><b>") {
		t.Fatalf("заголовок поста не экранирован")
	}
}
