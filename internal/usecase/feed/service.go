// Package feed выбирает страницы лент Global, Followed и Top.
//
// Пагинация курсорная: курсор — последняя увиденная позиция, следующая
// страница строго за ней в порядке ленты. Для Top порядок зависит от лайков,
// поэтому пост, чей счётчик изменился между запросами страниц, может
// повториться или пропасть на границе страниц. Это принятый компромисс,
// блокировок нет.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"feedhub/internal/domain"
	"feedhub/internal/infra/metrics"
)

// DefaultPageSize используется, если размер страницы не задан.
const DefaultPageSize = 20

// Service выполняет запросы лент.
type Service struct {
	posts         domain.PostRepo
	follows       domain.FollowRepo
	pageSize      int
	defaultWindow domain.Window
	now           func() time.Time
	log           zerolog.Logger
}

// NewService создаёт сервис лент.
func NewService(posts domain.PostRepo, follows domain.FollowRepo, pageSize int, defaultWindow domain.Window, logger zerolog.Logger) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if defaultWindow == "" {
		defaultWindow = domain.WindowWeek
	}
	return &Service{
		posts:         posts,
		follows:       follows,
		pageSize:      pageSize,
		defaultWindow: defaultWindow,
		now:           time.Now,
		log:           logger,
	}
}

// SetClock подменяет источник времени для окна Top.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// PageSize возвращает размер страницы.
func (s *Service) PageSize() int {
	return s.pageSize
}

// Query возвращает страницу ленты для зрителя; пустой viewerID — аноним.
// Запрос за последней страницей отдаёт пустую страницу без курсора.
func (s *Service) Query(ctx context.Context, viewerID string, key domain.ViewKey) (page domain.Page, err error) {
	key = key.Normalize(s.defaultWindow)
	start := time.Now()
	defer func() {
		metrics.ObserveFeedQuery(string(key.Kind), start, len(page.Items), err)
	}()

	if err := key.Validate(); err != nil {
		return domain.Page{}, err
	}
	q := domain.PostQuery{
		Order:    key.Kind.Order(),
		Limit:    s.pageSize + 1,
		ViewerID: viewerID,
	}
	if key.Cursor != "" {
		cursor, err := domain.DecodeCursor(key.Cursor)
		if err != nil {
			return domain.Page{}, err
		}
		q.After = &cursor
	}

	switch key.Kind {
	case domain.FeedFollowed:
		if viewerID == "" {
			return domain.Page{}, domain.ErrUnauthenticated
		}
		authors, err := s.follows.ListFollowedAuthors(ctx, viewerID)
		if err != nil {
			return domain.Page{}, classify("follow set", err)
		}
		if len(authors) == 0 {
			return domain.Page{Items: []domain.PostSummary{}}, nil
		}
		q.AuthorIDs = authors
		q.RestrictAuthors = true
	case domain.FeedTop:
		if d := key.Window.Duration(); d > 0 {
			now := s.now().UTC()
			q.Since = now.Add(-d)
			q.Until = now
		}
	}

	items, err := s.posts.QueryPosts(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Str("view", key.PageKey()).Msg("feed: query failed")
		return domain.Page{}, classify("query posts", err)
	}
	if items == nil {
		items = []domain.PostSummary{}
	}
	page = domain.Page{Items: items}
	if len(items) > s.pageSize {
		page.Items = items[:s.pageSize]
		page.NextCursor = domain.CursorAt(page.Items[s.pageSize-1]).Encode()
	}
	return page, nil
}

// classify оставляет доменные ошибки как есть, остальные считает временными.
func classify(op string, err error) error {
	for _, known := range []error{domain.ErrTransient, domain.ErrValidation, domain.ErrUnauthenticated, domain.ErrNotFound} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrTransient, op, err)
}
