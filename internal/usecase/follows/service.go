// Package follows управляет подписками на теги и авторов.
package follows

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"feedhub/internal/domain"
	"feedhub/internal/invalidation"
)

// Service реализует подписки.
type Service struct {
	follows   domain.FollowRepo
	users     domain.UserRepo
	publisher domain.TopicPublisher
	log       zerolog.Logger
}

// NewService создаёт сервис подписок. users может быть nil: тогда существование
// автора не проверяется.
func NewService(follows domain.FollowRepo, users domain.UserRepo, publisher domain.TopicPublisher, logger zerolog.Logger) *Service {
	return &Service{follows: follows, users: users, publisher: publisher, log: logger}
}

// FollowTag подписывает зрителя на тег и публикует tag:<name>.
func (s *Service) FollowTag(ctx context.Context, viewerID, tag string) (domain.TagInfo, error) {
	return s.setTag(ctx, viewerID, tag, true)
}

// UnfollowTag отписывает зрителя от тега.
func (s *Service) UnfollowTag(ctx context.Context, viewerID, tag string) (domain.TagInfo, error) {
	return s.setTag(ctx, viewerID, tag, false)
}

func (s *Service) setTag(ctx context.Context, viewerID, raw string, follow bool) (domain.TagInfo, error) {
	if viewerID == "" {
		return domain.TagInfo{}, domain.ErrUnauthenticated
	}
	tag, err := domain.NormalizeTag(raw)
	if err != nil {
		return domain.TagInfo{}, err
	}
	if err := s.follows.SetTagFollow(ctx, viewerID, tag, follow); err != nil {
		return domain.TagInfo{}, fmt.Errorf("подписка на тег: %w", err)
	}
	s.publish(ctx, invalidation.TopicsForTagFollow(tag)...)
	return s.follows.TagInfo(ctx, tag, viewerID)
}

// Tag возвращает сведения о теге.
func (s *Service) Tag(ctx context.Context, viewerID, raw string) (domain.TagInfo, error) {
	tag, err := domain.NormalizeTag(raw)
	if err != nil {
		return domain.TagInfo{}, err
	}
	return s.follows.TagInfo(ctx, tag, viewerID)
}

// FollowUser подписывает зрителя на автора. Меняется лента подписок самого
// зрителя, поэтому публикуется posts:followed:<viewer>.
func (s *Service) FollowUser(ctx context.Context, viewerID, authorID string) error {
	return s.setUser(ctx, viewerID, authorID, true)
}

// UnfollowUser отписывает зрителя от автора.
func (s *Service) UnfollowUser(ctx context.Context, viewerID, authorID string) error {
	return s.setUser(ctx, viewerID, authorID, false)
}

func (s *Service) setUser(ctx context.Context, viewerID, authorID string, follow bool) error {
	if viewerID == "" {
		return domain.ErrUnauthenticated
	}
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}
	if authorID == viewerID {
		return fmt.Errorf("%w: cannot follow yourself", domain.ErrValidation)
	}
	if follow && s.users != nil {
		if _, err := s.users.GetUser(ctx, authorID); err != nil {
			return err
		}
	}
	if err := s.follows.SetUserFollow(ctx, viewerID, authorID, follow); err != nil {
		return fmt.Errorf("подписка на автора: %w", err)
	}
	s.publish(ctx, invalidation.TopicsForUserFollow(viewerID)...)
	return nil
}

func (s *Service) publish(ctx context.Context, topics ...string) {
	if err := s.publisher.Publish(ctx, topics...); err != nil {
		s.log.Warn().Err(err).Strs("topics", topics).Msg("follows: publish failed")
	}
}
