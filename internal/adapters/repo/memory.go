package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"feedhub/internal/domain"
)

// Memory хранит данные в памяти процесса. Порядок и границы выборки те же,
// что у Postgres; используется в тестах и при STORAGE=memory.
type Memory struct {
	mu         sync.RWMutex
	now        func() time.Time
	posts      map[string]*domain.Post
	slugs      map[string]string
	likes      map[string]map[string]struct{}
	follows    map[string]map[string]struct{}
	tagFollows map[string]map[string]struct{}
	users      map[string]domain.User
	sessions   map[string]domain.Session
}

var (
	_ domain.PostRepo    = (*Memory)(nil)
	_ domain.FollowRepo  = (*Memory)(nil)
	_ domain.UserRepo    = (*Memory)(nil)
	_ domain.SessionRepo = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		now:        time.Now,
		posts:      make(map[string]*domain.Post),
		slugs:      make(map[string]string),
		likes:      make(map[string]map[string]struct{}),
		follows:    make(map[string]map[string]struct{}),
		tagFollows: make(map[string]map[string]struct{}),
		users:      make(map[string]domain.User),
		sessions:   make(map[string]domain.Session),
	}
}

// AddUser добавляет пользователя.
func (m *Memory) AddUser(user domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// AddSession регистрирует токен сессии.
func (m *Memory) AddSession(session domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Token] = session
}

// QueryPosts реализует domain.PostRepo.
func (m *Memory) QueryPosts(_ context.Context, q domain.PostQuery) ([]domain.PostSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var authors map[string]struct{}
	if q.RestrictAuthors {
		authors = make(map[string]struct{}, len(q.AuthorIDs))
		for _, id := range q.AuthorIDs {
			authors[id] = struct{}{}
		}
	}
	out := make([]domain.PostSummary, 0)
	for _, p := range m.posts {
		if authors != nil {
			if _, ok := authors[p.AuthorID]; !ok {
				continue
			}
		}
		if !q.Since.IsZero() && p.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && p.CreatedAt.After(q.Until) {
			continue
		}
		summary := m.summaryLocked(p, q.ViewerID)
		if q.After != nil && !q.Order.AfterCursor(*q.After, summary) {
			continue
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return q.Order.Before(out[i], out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CreatePost реализует domain.PostRepo.
func (m *Memory) CreatePost(_ context.Context, post domain.Post) (domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if post.ID == "" {
		return domain.Post{}, fmt.Errorf("%w: empty post id", domain.ErrValidation)
	}
	if _, ok := m.posts[post.ID]; ok {
		return domain.Post{}, fmt.Errorf("%w: post %s exists", domain.ErrConflict, post.ID)
	}
	if _, ok := m.slugs[post.Slug]; ok {
		return domain.Post{}, fmt.Errorf("%w: slug %s exists", domain.ErrConflict, post.Slug)
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = m.now()
	}
	post.CreatedAt = post.CreatedAt.UTC().Truncate(time.Microsecond)
	post.UpdatedAt = post.CreatedAt
	post.LikeCount = 0
	post.Liked = false
	post.Tags = append([]string(nil), post.Tags...)
	stored := post
	m.posts[post.ID] = &stored
	m.slugs[post.Slug] = post.ID
	return post, nil
}

// GetPost реализует domain.PostRepo.
func (m *Memory) GetPost(_ context.Context, id, viewerID string) (domain.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	return m.postLocked(p, viewerID), nil
}

// GetPostBySlug реализует domain.PostRepo.
func (m *Memory) GetPostBySlug(ctx context.Context, slug, viewerID string) (domain.Post, error) {
	m.mu.RLock()
	id, ok := m.slugs[slug]
	m.mu.RUnlock()
	if !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	return m.GetPost(ctx, id, viewerID)
}

// GetPostsByIDs возвращает найденные посты в порядке ids, пропуская отсутствующие.
func (m *Memory) GetPostsByIDs(_ context.Context, ids []string, viewerID string) ([]domain.PostSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PostSummary, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.posts[id]; ok {
			out = append(out, m.summaryLocked(p, viewerID))
		}
	}
	return out, nil
}

// UpdatePostImage реализует domain.PostRepo.
func (m *Memory) UpdatePostImage(_ context.Context, id, imageURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.ImageURL = imageURL
	p.UpdatedAt = m.now().UTC()
	return nil
}

// SetLike реализует domain.PostRepo.
func (m *Memory) SetLike(_ context.Context, postID, userID string, liked bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	set := m.likes[postID]
	if set == nil {
		set = make(map[string]struct{})
		m.likes[postID] = set
	}
	if liked {
		set[userID] = struct{}{}
	} else {
		delete(set, userID)
	}
	p.LikeCount = len(set)
	return p.LikeCount, nil
}

// ListFollowedAuthors реализует domain.FollowRepo.
func (m *Memory) ListFollowedAuthors(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.follows[userID]), nil
}

// ListFollowers реализует domain.FollowRepo.
func (m *Memory) ListFollowers(_ context.Context, authorID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for follower, followees := range m.follows {
		if _, ok := followees[authorID]; ok {
			out = append(out, follower)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SetUserFollow реализует domain.FollowRepo.
func (m *Memory) SetUserFollow(_ context.Context, followerID, followeeID string, follow bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	toggle(m.follows, followerID, followeeID, follow)
	return nil
}

// SetTagFollow реализует domain.FollowRepo.
func (m *Memory) SetTagFollow(_ context.Context, userID, tag string, follow bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	toggle(m.tagFollows, tag, userID, follow)
	return nil
}

// TagInfo реализует domain.FollowRepo.
func (m *Memory) TagInfo(_ context.Context, tag, viewerID string) (domain.TagInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := domain.TagInfo{Name: tag, Followers: len(m.tagFollows[tag])}
	if viewerID != "" {
		_, info.Following = m.tagFollows[tag][viewerID]
	}
	return info, nil
}

// GetUser реализует domain.UserRepo.
func (m *Memory) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

// GetSession реализует domain.SessionRepo. Истёкшая сессия считается отсутствующей.
func (m *Memory) GetSession(_ context.Context, token string) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[token]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(m.now()) {
		return domain.Session{}, domain.ErrNotFound
	}
	return session, nil
}

func (m *Memory) summaryLocked(p *domain.Post, viewerID string) domain.PostSummary {
	summary := p.PostSummary
	summary.Tags = append([]string(nil), p.Tags...)
	if viewerID != "" {
		_, summary.Liked = m.likes[p.ID][viewerID]
	}
	return summary
}

func (m *Memory) postLocked(p *domain.Post, viewerID string) domain.Post {
	post := *p
	post.PostSummary = m.summaryLocked(p, viewerID)
	return post
}

func toggle(sets map[string]map[string]struct{}, key, member string, on bool) {
	set := sets[key]
	if on {
		if set == nil {
			set = make(map[string]struct{})
			sets[key] = set
		}
		set[member] = struct{}{}
		return
	}
	delete(set, member)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
