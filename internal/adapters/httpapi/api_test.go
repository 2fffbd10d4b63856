package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedhub/internal/adapters/repo"
	searchindex "feedhub/internal/adapters/search"
	"feedhub/internal/domain"
	httpinfra "feedhub/internal/infra/http"
	"feedhub/internal/infra/session"
	"feedhub/internal/usecase/feed"
	"feedhub/internal/usecase/follows"
	"feedhub/internal/usecase/posts"
	"feedhub/internal/usecase/search"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topics ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topics...)
	return nil
}

func (p *recordingPublisher) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type fixture struct {
	server *httptest.Server
	store  *repo.Memory
	pub    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemory()
	store.AddUser(domain.User{ID: "alice", Name: "Alice"})
	store.AddUser(domain.User{ID: "bob", Name: "Bob"})
	store.AddSession(domain.Session{Token: "tok-alice", UserID: "alice", ExpiresAt: time.Now().Add(time.Hour)})
	store.AddSession(domain.Session{Token: "tok-bob", UserID: "bob", ExpiresAt: time.Now().Add(time.Hour)})

	idx, err := searchindex.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	pub := &recordingPublisher{}
	nop := zerolog.Nop()
	api := New(
		feed.NewService(store, store, 2, domain.WindowWeek, nop),
		posts.NewService(store, store, pub, idx, nil, nop),
		follows.NewService(store, store, pub, nop),
		search.NewService(idx, store),
		nop,
	)
	srv := httpinfra.NewServer(nop)
	api.Mount(srv.Router, session.Middleware(session.DefaultCookie, session.NewRepoResolver(store), nop))
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return &fixture{server: ts, store: store, pub: pub}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: session.DefaultCookie, Value: token})
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e httpinfra.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Code
}

func TestFeedEmptyPage(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/feed", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"items":[],"nextCursor":null}`, string(body))
}

func TestFeedFollowedRequiresSession(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/feed?kind=followed", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, httpinfra.CodeUnauthenticated, errorCode(t, body))

	resp, body = f.do(t, http.MethodGet, "/api/v1/feed?kind=followed", "bogus-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, httpinfra.CodeUnauthenticated, errorCode(t, body))

	resp, _ = f.do(t, http.MethodGet, "/api/v1/feed?kind=followed", "tok-alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFeedValidation(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/api/v1/feed?kind=trending",
		"/api/v1/feed?kind=top&window=decade",
		"/api/v1/feed?cursor=%%%",
	} {
		resp, body := f.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, httpinfra.CodeInvalid, errorCode(t, body), path)
	}
}

func TestCreateAndPaginate(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/posts", "", posts.CreateParams{Title: "x"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, httpinfra.CodeUnauthenticated, errorCode(t, body))

	var created []domain.Post
	for _, title := range []string{"first", "second", "third"} {
		resp, body := f.do(t, http.MethodPost, "/api/v1/posts", "tok-alice", posts.CreateParams{Title: title, Tags: []string{"Go"}})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
		var post domain.Post
		require.NoError(t, json.Unmarshal(body, &post))
		created = append(created, post)
	}
	assert.Contains(t, f.pub.all(), "posts:global")

	var ids []string
	path := "/api/v1/feed"
	for i := 0; i < 5; i++ {
		resp, body := f.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var page domain.Page
		require.NoError(t, json.Unmarshal(body, &page))
		for _, p := range page.Items {
			ids = append(ids, p.ID)
		}
		if page.NextCursor == "" {
			break
		}
		path = "/api/v1/feed?cursor=" + page.NextCursor
	}
	require.Len(t, ids, 3)
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}

	resp, body = f.do(t, http.MethodGet, "/api/v1/posts/"+created[0].Slug, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.Post
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "first", got.Title)
	assert.Equal(t, []string{"go"}, got.Tags)
}

func TestGetMissingPost(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/posts/nope", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, httpinfra.CodeNotFound, errorCode(t, body))
}

func TestLikeAndImage(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/api/v1/posts", "tok-alice", posts.CreateParams{Title: "pic"})
	var post domain.Post
	require.NoError(t, json.Unmarshal(body, &post))
	before := len(f.pub.all())

	resp, body := f.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/like", "tok-bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state domain.LikeState
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, 1, state.LikeCount)
	assert.True(t, state.Liked)
	assert.Len(t, f.pub.all(), before)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/posts/"+post.ID+"/like", "tok-bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodPut, "/api/v1/posts/"+post.ID+"/image", "tok-bob", imageRequest{ImageURL: "https://img.example/a.png"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, httpinfra.CodeForbidden, errorCode(t, body))

	resp, _ = f.do(t, http.MethodPut, "/api/v1/posts/"+post.ID+"/image", "tok-alice", imageRequest{ImageURL: "https://img.example/a.png"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	topics := f.pub.all()
	assert.Equal(t, "post:"+post.ID, topics[len(topics)-1])
}

func TestFollowEndpoints(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/tags/Go/follow", "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info domain.TagInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, domain.TagInfo{Name: "go", Followers: 1, Following: true}, info)

	resp, body = f.do(t, http.MethodGet, "/api/v1/tags/go", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, domain.TagInfo{Name: "go", Followers: 1}, info)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/users/bob/follow", "tok-alice", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, f.pub.all(), "posts:followed:alice")

	_, body = f.do(t, http.MethodPost, "/api/v1/posts", "tok-bob", posts.CreateParams{Title: "from bob"})
	var post domain.Post
	require.NoError(t, json.Unmarshal(body, &post))
	assert.Contains(t, f.pub.all(), "posts:followed:alice")

	resp, body = f.do(t, http.MethodGet, "/api/v1/feed?kind=followed", "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page domain.Page
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, post.ID, page.Items[0].ID)

	resp, body = f.do(t, http.MethodPost, "/api/v1/users/alice/follow", "tok-alice", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, httpinfra.CodeInvalid, errorCode(t, body))
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/v1/posts", "tok-alice", posts.CreateParams{Title: "Goroutines explained", Body: "channels"})
	_, _ = f.do(t, http.MethodPost, "/api/v1/posts", "tok-alice", posts.CreateParams{Title: "Baking bread"})

	resp, body := f.do(t, http.MethodGet, "/api/v1/search?q=goroutines", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Items []domain.PostSummary `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "Goroutines explained", out.Items[0].Title)

	resp, body = f.do(t, http.MethodGet, "/api/v1/search?q=", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, httpinfra.CodeInvalid, errorCode(t, body))
}
