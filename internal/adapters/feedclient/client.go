// Package feedclient — HTTP клиент API ленты.
// Пересылает сессионную cookie из контекста и переводит ответы API в доменные ошибки.
package feedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"feedhub/internal/domain"
	httpinfra "feedhub/internal/infra/http"
	"feedhub/internal/infra/metrics"
	"feedhub/internal/infra/session"
	"feedhub/internal/usecase/posts"
	"feedhub/internal/viewcache"
)

const metricsComponent = "feed_client"

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

var (
	_ viewcache.Fetcher = (*Client)(nil)
	_ viewcache.Liker   = (*Client)(nil)
)

// New создаёт клиента для baseURL вида http://host:port.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// FetchPage запрашивает одну страницу представления.
func (c *Client) FetchPage(ctx context.Context, key domain.ViewKey) (domain.Page, error) {
	q := url.Values{}
	q.Set("kind", string(key.Kind))
	if key.Window != "" {
		q.Set("window", string(key.Window))
	}
	if key.Cursor != "" {
		q.Set("cursor", key.Cursor)
	}
	var page domain.Page
	if err := c.get(ctx, "fetch_page", "/api/v1/feed", q, &page); err != nil {
		return domain.Page{}, err
	}
	return page, nil
}

func (c *Client) GetPost(ctx context.Context, slug string) (domain.Post, error) {
	var post domain.Post
	if err := c.get(ctx, "get_post", "/api/v1/posts/"+slug, nil, &post); err != nil {
		return domain.Post{}, err
	}
	return post, nil
}

func (c *Client) CreatePost(ctx context.Context, params posts.CreateParams) (domain.Post, error) {
	var post domain.Post
	if err := c.send(ctx, "create_post", http.MethodPost, "/api/v1/posts", params, &post); err != nil {
		return domain.Post{}, err
	}
	return post, nil
}

func (c *Client) LikePost(ctx context.Context, postID string) (domain.LikeState, error) {
	return c.like(ctx, "like_post", http.MethodPost, postID)
}

func (c *Client) UnlikePost(ctx context.Context, postID string) (domain.LikeState, error) {
	return c.like(ctx, "unlike_post", http.MethodDelete, postID)
}

func (c *Client) like(ctx context.Context, op, method, postID string) (domain.LikeState, error) {
	var state domain.LikeState
	endpoint := "/api/v1/posts/" + postID + "/like"
	if err := c.send(ctx, op, method, endpoint, nil, &state); err != nil {
		return domain.LikeState{}, err
	}
	return state, nil
}

func (c *Client) FollowTag(ctx context.Context, name string) (domain.TagInfo, error) {
	return c.tagFollow(ctx, "follow_tag", http.MethodPost, name)
}

func (c *Client) UnfollowTag(ctx context.Context, name string) (domain.TagInfo, error) {
	return c.tagFollow(ctx, "unfollow_tag", http.MethodDelete, name)
}

func (c *Client) tagFollow(ctx context.Context, op, method, name string) (domain.TagInfo, error) {
	var info domain.TagInfo
	endpoint := "/api/v1/tags/" + name + "/follow"
	if err := c.send(ctx, op, method, endpoint, nil, &info); err != nil {
		return domain.TagInfo{}, err
	}
	return info, nil
}

func (c *Client) FollowUser(ctx context.Context, userID string) error {
	return c.send(ctx, "follow_user", http.MethodPost, "/api/v1/users/"+userID+"/follow", nil, nil)
}

func (c *Client) UnfollowUser(ctx context.Context, userID string) error {
	return c.send(ctx, "unfollow_user", http.MethodDelete, "/api/v1/users/"+userID+"/follow", nil, nil)
}

// Search выполняет полнотекстовый поиск; limit 0 — значение сервера по умолчанию.
func (c *Client) Search(ctx context.Context, text string, limit int) ([]domain.PostSummary, error) {
	q := url.Values{}
	q.Set("q", text)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Items []domain.PostSummary `json:"items"`
	}
	if err := c.get(ctx, "search", "/api/v1/search", q, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	return c.do(op, req, out)
}

func (c *Client) send(ctx context.Context, op, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	return c.do(op, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	resolved.RawPath = ""
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	session.Apply(ctx, req)
	return req, nil
}

func (c *Client) do(op string, req *http.Request, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest(metricsComponent, op, req.URL.Host, start, err)
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return fmt.Errorf("%w: feed api request: %v", domain.ErrTransient, ctxErr)
			}
			return ctxErr
		}
		return fmt.Errorf("%w: feed api request failed: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr httpinfra.ErrorResponse
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return mapAPIError(resp.StatusCode, apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// Битое тело при 2xx — сбой на стороне сервера.
		return fmt.Errorf("%w: decode response: %v", domain.ErrTransient, err)
	}
	return nil
}

func mapAPIError(status int, apiErr httpinfra.ErrorResponse) error {
	sentinel := httpinfra.ErrorFor(status, apiErr.Code)
	if apiErr.Error == "" {
		return fmt.Errorf("%w: feed api status=%d", sentinel, status)
	}
	return fmt.Errorf("%w: feed api [%s] %s", sentinel, apiErr.Code, apiErr.Error)
}
