package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"feedhub/internal/domain"
	"feedhub/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.PostRepo    = (*Postgres)(nil)
	_ domain.FollowRepo  = (*Postgres)(nil)
	_ domain.UserRepo    = (*Postgres)(nil)
	_ domain.SessionRepo = (*Postgres)(nil)
)

const uniqueViolation = "23505"

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const summaryColumns = `p.id, p.title, p.slug, p.author_id, p.tags, p.like_count, p.created_at, p.image_url`

// likedColumn добавляет признак лайка зрителя; $1 всегда id зрителя.
const likedColumn = `EXISTS (SELECT 1 FROM post_likes l WHERE l.post_id = p.id AND l.user_id = $1)`

// QueryPosts реализует domain.PostRepo. Порядок и граница курсора совпадают
// с domain.FeedOrder.
func (p *Postgres) QueryPosts(ctx context.Context, q domain.PostQuery) ([]domain.PostSummary, error) {
	if q.RestrictAuthors && len(q.AuthorIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	args := []any{q.ViewerID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var where []string
	if q.RestrictAuthors {
		where = append(where, "p.author_id = ANY("+arg(q.AuthorIDs)+")")
	}
	if !q.Since.IsZero() {
		where = append(where, "p.created_at >= "+arg(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "p.created_at <= "+arg(q.Until))
	}
	orderBy := "p.created_at DESC, p.id DESC"
	if q.After != nil {
		t, id := arg(q.After.CreatedAt), arg(q.After.ID)
		switch q.Order {
		case domain.OrderPopular:
			l := arg(q.After.LikeCount)
			where = append(where, fmt.Sprintf(
				"(p.like_count < %[1]s OR (p.like_count = %[1]s AND (p.created_at < %[2]s OR (p.created_at = %[2]s AND p.id > %[3]s))))",
				l, t, id))
		default:
			where = append(where, fmt.Sprintf("(p.created_at, p.id) < (%s, %s)", t, id))
		}
	}
	if q.Order == domain.OrderPopular {
		orderBy = "p.like_count DESC, p.created_at DESC, p.id ASC"
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + summaryColumns + ", " + likedColumn + " FROM posts p")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY " + orderBy)
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, sb.String(), args...)
	metrics.ObserveNetworkRequest("postgres", "posts_query", "posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: query posts: %v", domain.ErrTransient, err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// CreatePost реализует domain.PostRepo.
func (p *Postgres) CreatePost(ctx context.Context, post domain.Post) (domain.Post, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	post.CreatedAt = post.CreatedAt.UTC().Truncate(time.Microsecond)
	post.UpdatedAt = post.CreatedAt
	post.LikeCount = 0
	if post.Tags == nil {
		post.Tags = []string{}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO posts (id, slug, title, body, author_id, tags, like_count, image_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
`, post.ID, post.Slug, post.Title, post.Body, post.AuthorID, post.Tags, post.ImageURL, post.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "posts_insert", "posts", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Post{}, fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		}
		return domain.Post{}, err
	}
	return post, nil
}

// GetPost реализует domain.PostRepo.
func (p *Postgres) GetPost(ctx context.Context, id, viewerID string) (domain.Post, error) {
	return p.getPost(ctx, "p.id = $2", id, viewerID)
}

// GetPostBySlug реализует domain.PostRepo.
func (p *Postgres) GetPostBySlug(ctx context.Context, slug, viewerID string) (domain.Post, error) {
	return p.getPost(ctx, "p.slug = $2", slug, viewerID)
}

func (p *Postgres) getPost(ctx context.Context, cond, value, viewerID string) (domain.Post, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var post domain.Post
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT `+summaryColumns+`, `+likedColumn+`, p.body, p.updated_at
FROM posts p WHERE `+cond, viewerID, value).Scan(
		&post.ID, &post.Title, &post.Slug, &post.AuthorID, &post.Tags, &post.LikeCount,
		&post.CreatedAt, &post.ImageURL, &post.Liked, &post.Body, &post.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "posts_get", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Post{}, err
	}
	post.CreatedAt = post.CreatedAt.UTC()
	return post, nil
}

// GetPostsByIDs возвращает найденные посты в порядке ids.
func (p *Postgres) GetPostsByIDs(ctx context.Context, ids []string, viewerID string) ([]domain.PostSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+summaryColumns+`, `+likedColumn+`
FROM posts p WHERE p.id = ANY($2)
`, viewerID, ids)
	metrics.ObserveNetworkRequest("postgres", "posts_get_many", "posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.PostSummary, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}
	out := make([]domain.PostSummary, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// UpdatePostImage реализует domain.PostRepo.
func (p *Postgres) UpdatePostImage(ctx context.Context, id, imageURL string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `UPDATE posts SET image_url=$2, updated_at=now() WHERE id=$1`, id, imageURL)
	metrics.ObserveNetworkRequest("postgres", "posts_update_image", "posts", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetLike реализует domain.PostRepo. Счётчик пересчитывается в той же транзакции.
func (p *Postgres) SetLike(ctx context.Context, postID, userID string, liked bool) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "post_likes", start, err)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists int
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT 1 FROM posts WHERE id=$1 FOR UPDATE`, postID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "posts_lock", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	start = time.Now()
	if liked {
		_, err = tx.Exec(ctx, `INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, postID, userID)
		metrics.ObserveNetworkRequest("postgres", "post_likes_insert", "post_likes", start, err)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM post_likes WHERE post_id=$1 AND user_id=$2`, postID, userID)
		metrics.ObserveNetworkRequest("postgres", "post_likes_delete", "post_likes", start, err)
	}
	if err != nil {
		return 0, err
	}

	var count int
	start = time.Now()
	err = tx.QueryRow(ctx, `
UPDATE posts SET like_count = (SELECT count(*) FROM post_likes WHERE post_id=$1)
WHERE id=$1 RETURNING like_count
`, postID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "posts_update_likes", "posts", start, err)
	if err != nil {
		return 0, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "post_likes", start, err)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListFollowedAuthors реализует domain.FollowRepo.
func (p *Postgres) ListFollowedAuthors(ctx context.Context, userID string) ([]string, error) {
	return p.listIDs(ctx, "user_follows_list_followees",
		`SELECT followee_id FROM user_follows WHERE follower_id=$1 ORDER BY followee_id`, userID)
}

// ListFollowers реализует domain.FollowRepo.
func (p *Postgres) ListFollowers(ctx context.Context, authorID string) ([]string, error) {
	return p.listIDs(ctx, "user_follows_list_followers",
		`SELECT follower_id FROM user_follows WHERE followee_id=$1 ORDER BY follower_id`, authorID)
}

func (p *Postgres) listIDs(ctx context.Context, operation, query, arg string) ([]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, arg)
	metrics.ObserveNetworkRequest("postgres", operation, "user_follows", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrTransient, operation, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetUserFollow реализует domain.FollowRepo.
func (p *Postgres) SetUserFollow(ctx context.Context, followerID, followeeID string, follow bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var err error
	start := time.Now()
	if follow {
		_, err = p.pool.Exec(ctx, `INSERT INTO user_follows (follower_id, followee_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, followerID, followeeID)
		metrics.ObserveNetworkRequest("postgres", "user_follows_insert", "user_follows", start, err)
	} else {
		_, err = p.pool.Exec(ctx, `DELETE FROM user_follows WHERE follower_id=$1 AND followee_id=$2`, followerID, followeeID)
		metrics.ObserveNetworkRequest("postgres", "user_follows_delete", "user_follows", start, err)
	}
	return err
}

// SetTagFollow реализует domain.FollowRepo.
func (p *Postgres) SetTagFollow(ctx context.Context, userID, tag string, follow bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var err error
	start := time.Now()
	if follow {
		_, err = p.pool.Exec(ctx, `INSERT INTO tag_follows (tag, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, tag, userID)
		metrics.ObserveNetworkRequest("postgres", "tag_follows_insert", "tag_follows", start, err)
	} else {
		_, err = p.pool.Exec(ctx, `DELETE FROM tag_follows WHERE tag=$1 AND user_id=$2`, tag, userID)
		metrics.ObserveNetworkRequest("postgres", "tag_follows_delete", "tag_follows", start, err)
	}
	return err
}

// TagInfo реализует domain.FollowRepo.
func (p *Postgres) TagInfo(ctx context.Context, tag, viewerID string) (domain.TagInfo, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	info := domain.TagInfo{Name: tag}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*), COALESCE(bool_or(user_id = $2), false)
FROM tag_follows WHERE tag=$1
`, tag, viewerID).Scan(&info.Followers, &info.Following)
	metrics.ObserveNetworkRequest("postgres", "tag_follows_info", "tag_follows", start, err)
	if err != nil {
		return domain.TagInfo{}, err
	}
	return info, nil
}

// GetUser реализует domain.UserRepo.
func (p *Postgres) GetUser(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, name, created_at FROM users WHERE id=$1`, id).
		Scan(&user.ID, &user.Name, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	return user, err
}

// GetSession реализует domain.SessionRepo.
func (p *Postgres) GetSession(ctx context.Context, token string) (domain.Session, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	session := domain.Session{Token: token}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT user_id, expires_at FROM sessions WHERE token=$1 AND expires_at > now()
`, token).Scan(&session.UserID, &session.ExpiresAt)
	metrics.ObserveNetworkRequest("postgres", "sessions_get", "sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: session lookup: %v", domain.ErrTransient, err)
	}
	return session, nil
}

func scanSummaries(rows pgx.Rows) ([]domain.PostSummary, error) {
	var out []domain.PostSummary
	for rows.Next() {
		var s domain.PostSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Slug, &s.AuthorID, &s.Tags, &s.LikeCount, &s.CreatedAt, &s.ImageURL, &s.Liked); err != nil {
			return nil, err
		}
		s.CreatedAt = s.CreatedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
