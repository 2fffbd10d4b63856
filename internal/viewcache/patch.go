package viewcache

import (
	"context"
	"fmt"

	"feedhub/internal/domain"
	"feedhub/internal/infra/metrics"
)

// FieldLikeCount — единственный счётчик, который патчится локально.
const FieldLikeCount = "likeCount"

// Liker переключает лайк на сервере.
type Liker interface {
	LikePost(ctx context.Context, postID string) (domain.LikeState, error)
	UnlikePost(ctx context.Context, postID string) (domain.LikeState, error)
}

// PatchPostCounter меняет счётчик поста во всех записях, где он есть.
// LastFetchedAt не меняется, выборка не запускается. Возвращает число
// изменённых записей.
func (c *Cache) PatchPostCounter(postID, field string, delta int) (int, error) {
	if field != FieldLikeCount {
		return 0, fmt.Errorf("%w: unknown counter %q", domain.ErrValidation, field)
	}
	return c.patchPost(postID, func(p *domain.PostSummary) {
		p.LikeCount += delta
		if p.LikeCount < 0 {
			p.LikeCount = 0
		}
	}), nil
}

// ApplyLike оптимистично патчит счётчик, отправляет лайк на сервер и
// сверяет счётчик с ответом. При ошибке патч откатывается.
func (c *Cache) ApplyLike(ctx context.Context, liker Liker, postID string, like bool) (domain.LikeState, error) {
	delta := 1
	call := liker.LikePost
	if !like {
		delta = -1
		call = liker.UnlikePost
	}
	if _, err := c.PatchPostCounter(postID, FieldLikeCount, delta); err != nil {
		return domain.LikeState{}, err
	}
	state, err := call(ctx, postID)
	if err != nil {
		_, _ = c.PatchPostCounter(postID, FieldLikeCount, -delta)
		return domain.LikeState{}, err
	}
	c.patchPost(postID, func(p *domain.PostSummary) {
		p.LikeCount = state.LikeCount
		p.Liked = state.Liked
	})
	return state, nil
}

func (c *Cache) patchPost(postID string, mutate func(*domain.PostSummary)) int {
	var snaps []Entry
	c.mu.Lock()
	for _, e := range c.entries {
		touched := false
		for pi := range e.pages {
			items := e.pages[pi].Items
			for i := range items {
				if items[i].ID != postID {
					continue
				}
				mutate(&items[i])
				touched = true
			}
		}
		if touched {
			snaps = append(snaps, e.snapshot())
		}
	}
	c.mu.Unlock()
	for range snaps {
		metrics.ViewCachePatches.Inc()
	}
	for _, snap := range snaps {
		c.notify(snap)
	}
	return len(snaps)
}
