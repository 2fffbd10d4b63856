// Package posts управляет постами: создание, картинка, лайки и рассылка
// инвалидаций после каждой записи.
package posts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"

	"feedhub/internal/domain"
	"feedhub/internal/infra/metrics"
	"feedhub/internal/invalidation"
)

// MaxTitleLength — предел длины заголовка в рунах.
const MaxTitleLength = 200

// CreateParams — данные нового поста.
type CreateParams struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Tags     []string `json:"tags"`
	ImageURL string   `json:"imageUrl"`
}

// Service реализует операции с постами.
type Service struct {
	posts     domain.PostRepo
	follows   domain.FollowRepo
	publisher domain.TopicPublisher
	index     domain.SearchIndex
	queue     domain.FanoutQueue
	renderer  BodyRenderer
	log       zerolog.Logger
	now       func() time.Time
}

// BodyRenderer превращает тело поста в HTML.
type BodyRenderer interface {
	Render(body string) (string, error)
}

// SetRenderer включает рендер тела в Get.
func (s *Service) SetRenderer(r BodyRenderer) {
	s.renderer = r
}

// NewService создаёт сервис постов. index и queue могут быть nil: без очереди
// рассылка подписчикам выполняется сразу в запросе.
func NewService(posts domain.PostRepo, follows domain.FollowRepo, publisher domain.TopicPublisher, index domain.SearchIndex, queue domain.FanoutQueue, logger zerolog.Logger) *Service {
	return &Service{
		posts:     posts,
		follows:   follows,
		publisher: publisher,
		index:     index,
		queue:     queue,
		log:       logger,
		now:       time.Now,
	}
}

// Create сохраняет пост, затем публикует posts:global и топики подписчиков автора.
func (s *Service) Create(ctx context.Context, viewerID string, params CreateParams) (domain.Post, error) {
	if viewerID == "" {
		return domain.Post{}, domain.ErrUnauthenticated
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return domain.Post{}, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return domain.Post{}, fmt.Errorf("%w: title longer than %d characters", domain.ErrValidation, MaxTitleLength)
	}
	tags, err := domain.NormalizeTags(params.Tags)
	if err != nil {
		return domain.Post{}, err
	}
	if err := validateImageURL(params.ImageURL); err != nil {
		return domain.Post{}, err
	}

	id := uuid.NewString()
	post := domain.Post{
		PostSummary: domain.PostSummary{
			ID:        id,
			Title:     title,
			Slug:      makeSlug(title, id),
			AuthorID:  viewerID,
			Tags:      tags,
			CreatedAt: s.now().UTC().Truncate(time.Microsecond),
			ImageURL:  params.ImageURL,
		},
		Body: params.Body,
	}
	created, err := s.posts.CreatePost(ctx, post)
	if err != nil {
		return domain.Post{}, fmt.Errorf("сохранение поста: %w", err)
	}
	if s.index != nil {
		if err := s.index.IndexPost(created); err != nil {
			s.log.Warn().Err(err).Str("post_id", created.ID).Msg("posts: index failed")
		}
	}
	s.publishCreated(ctx, created)
	return created, nil
}

func (s *Service) publishCreated(ctx context.Context, post domain.Post) {
	if s.queue == nil {
		followers, err := s.follows.ListFollowers(ctx, post.AuthorID)
		if err != nil {
			s.log.Warn().Err(err).Str("author_id", post.AuthorID).Msg("posts: followers unavailable, publishing global only")
			followers = nil
		}
		s.publish(ctx, invalidation.TopicsForPostCreated(followers)...)
		return
	}
	s.publish(ctx, invalidation.TopicGlobal)
	job := domain.FanoutJob{
		ID:        uuid.NewString(),
		AuthorID:  post.AuthorID,
		PostID:    post.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.log.Warn().Err(err).Str("post_id", post.ID).Msg("posts: fanout enqueue failed")
	}
}

// Fanout публикует топики лент подписок для всех подписчиков автора.
func (s *Service) Fanout(ctx context.Context, job domain.FanoutJob) error {
	followers, err := s.follows.ListFollowers(ctx, job.AuthorID)
	if err != nil {
		metrics.IncFanout(err)
		return fmt.Errorf("подписчики автора %s: %w", job.AuthorID, err)
	}
	topics := invalidation.TopicsForFollowers(followers)
	err = s.publisher.Publish(ctx, topics...)
	metrics.IncFanout(err)
	if err != nil {
		return err
	}
	s.log.Debug().Str("job_id", job.ID).Int("followers", len(followers)).Msg("posts: fanout done")
	return nil
}

// Get возвращает пост по slug.
func (s *Service) Get(ctx context.Context, viewerID, postSlug string) (domain.Post, error) {
	if strings.TrimSpace(postSlug) == "" {
		return domain.Post{}, domain.ErrNotFound
	}
	post, err := s.posts.GetPostBySlug(ctx, postSlug, viewerID)
	if err != nil {
		return domain.Post{}, err
	}
	if s.renderer != nil && post.Body != "" {
		html, err := s.renderer.Render(post.Body)
		if err != nil {
			s.log.Warn().Err(err).Str("post_id", post.ID).Msg("posts: render body failed")
		} else {
			post.BodyHTML = html
		}
	}
	return post, nil
}

// UpdateImage меняет картинку поста. Доступно только автору.
func (s *Service) UpdateImage(ctx context.Context, viewerID, postID, imageURL string) (domain.Post, error) {
	if viewerID == "" {
		return domain.Post{}, domain.ErrUnauthenticated
	}
	if err := validateImageURL(imageURL); err != nil {
		return domain.Post{}, err
	}
	post, err := s.posts.GetPost(ctx, postID, viewerID)
	if err != nil {
		return domain.Post{}, err
	}
	if post.AuthorID != viewerID {
		return domain.Post{}, domain.ErrForbidden
	}
	if err := s.posts.UpdatePostImage(ctx, postID, imageURL); err != nil {
		return domain.Post{}, fmt.Errorf("обновление картинки: %w", err)
	}
	post.ImageURL = imageURL
	if s.index != nil {
		if err := s.index.IndexPost(post); err != nil {
			s.log.Warn().Err(err).Str("post_id", post.ID).Msg("posts: reindex failed")
		}
	}
	s.publish(ctx, invalidation.TopicsForImageChange(postID)...)
	return post, nil
}

// Like ставит лайк. Повторный лайк ничего не меняет.
func (s *Service) Like(ctx context.Context, viewerID, postID string) (domain.LikeState, error) {
	return s.setLike(ctx, viewerID, postID, true)
}

// Unlike снимает лайк.
func (s *Service) Unlike(ctx context.Context, viewerID, postID string) (domain.LikeState, error) {
	return s.setLike(ctx, viewerID, postID, false)
}

func (s *Service) setLike(ctx context.Context, viewerID, postID string, liked bool) (domain.LikeState, error) {
	if viewerID == "" {
		return domain.LikeState{}, domain.ErrUnauthenticated
	}
	count, err := s.posts.SetLike(ctx, postID, viewerID, liked)
	if err != nil {
		return domain.LikeState{}, err
	}
	s.publish(ctx, invalidation.TopicsForLike()...)
	return domain.LikeState{PostID: postID, LikeCount: count, Liked: liked}, nil
}

// Reindex заполняет поисковый индекс всеми постами хранилища.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	var (
		after *domain.Cursor
		total int
	)
	for {
		batch, err := s.posts.QueryPosts(ctx, domain.PostQuery{Order: domain.OrderRecent, After: after, Limit: 200})
		if err != nil {
			return total, fmt.Errorf("выборка постов: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		for _, summary := range batch {
			post, err := s.posts.GetPost(ctx, summary.ID, "")
			if err != nil {
				return total, err
			}
			if err := s.index.IndexPost(post); err != nil {
				return total, err
			}
			total++
		}
		cursor := domain.CursorAt(batch[len(batch)-1])
		after = &cursor
	}
}

func (s *Service) publish(ctx context.Context, topics ...string) {
	if len(topics) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, topics...); err != nil {
		s.log.Warn().Err(err).Strs("topics", topics).Msg("posts: publish failed")
	}
}

func makeSlug(title, id string) string {
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	base := slug.Make(title)
	if base == "" {
		base = "post"
	}
	if len(base) > 80 {
		base = strings.TrimRight(base[:80], "-")
	}
	return base + "-" + suffix
}

func validateImageURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid image url", domain.ErrValidation)
	}
	return nil
}
