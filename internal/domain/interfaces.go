package domain

import (
	"context"
	"time"
)

// PostRepo хранит посты и лайки.
type PostRepo interface {
	QueryPosts(ctx context.Context, q PostQuery) ([]PostSummary, error)
	CreatePost(ctx context.Context, post Post) (Post, error)
	GetPost(ctx context.Context, id, viewerID string) (Post, error)
	GetPostBySlug(ctx context.Context, slug, viewerID string) (Post, error)
	GetPostsByIDs(ctx context.Context, ids []string, viewerID string) ([]PostSummary, error)
	UpdatePostImage(ctx context.Context, id, imageURL string) error
	// SetLike идемпотентно ставит или снимает лайк и возвращает итоговое число лайков.
	SetLike(ctx context.Context, postID, userID string, liked bool) (int, error)
}

// FollowRepo управляет подписками на авторов и теги.
type FollowRepo interface {
	ListFollowedAuthors(ctx context.Context, userID string) ([]string, error)
	ListFollowers(ctx context.Context, authorID string) ([]string, error)
	SetUserFollow(ctx context.Context, followerID, followeeID string, follow bool) error
	SetTagFollow(ctx context.Context, userID, tag string, follow bool) error
	TagInfo(ctx context.Context, tag, viewerID string) (TagInfo, error)
}

// UserRepo возвращает пользователей.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// SessionRepo разрешает токен сессии. Выдача сессий вне этой системы.
type SessionRepo interface {
	GetSession(ctx context.Context, token string) (Session, error)
}

// TopicPublisher рассылает топики инвалидации клиентам.
// Вызывается только после фиксации записи в хранилище.
type TopicPublisher interface {
	Publish(ctx context.Context, topics ...string) error
}

// SearchIndex — полнотекстовый индекс постов.
type SearchIndex interface {
	IndexPost(post Post) error
	Search(query string, limit int) ([]string, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
