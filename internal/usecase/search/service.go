// Package search ищет посты по тексту.
package search

import (
	"context"
	"fmt"
	"strings"

	"feedhub/internal/domain"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service объединяет полнотекстовый индекс и хранилище постов.
type Service struct {
	index domain.SearchIndex
	posts domain.PostRepo
}

// NewService создаёт сервис поиска.
func NewService(index domain.SearchIndex, posts domain.PostRepo) *Service {
	return &Service{index: index, posts: posts}
}

// Search возвращает карточки постов в порядке релевантности.
func (s *Service) Search(ctx context.Context, viewerID, text string, limit int) ([]domain.PostSummary, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty search query", domain.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	ids, err := s.index.Search(text, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	if len(ids) == 0 {
		return []domain.PostSummary{}, nil
	}
	return s.posts.GetPostsByIDs(ctx, ids, viewerID)
}
