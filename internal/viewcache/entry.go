package viewcache

import (
	"time"

	"feedhub/internal/domain"
)

// Status — состояние записи кэша.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusRevalidating
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusRevalidating:
		return "revalidating"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry — снимок записи кэша. Изменять записи может только Cache,
// снимок принадлежит вызывающему.
type Entry struct {
	Key           domain.ViewKey
	Pages         []domain.Page
	Status        Status
	LastFetchedAt time.Time
	Err           error
	// Stale выставлен, если после последней выборки пришла инвалидация.
	Stale bool
}

// Posts возвращает накопленные посты всех страниц по порядку.
func (e Entry) Posts() []domain.PostSummary {
	var n int
	for _, p := range e.Pages {
		n += len(p.Items)
	}
	posts := make([]domain.PostSummary, 0, n)
	for _, p := range e.Pages {
		posts = append(posts, p.Items...)
	}
	return posts
}

// NextCursor возвращает курсор следующей страницы.
func (e Entry) NextCursor() string {
	if len(e.Pages) == 0 {
		return ""
	}
	return e.Pages[len(e.Pages)-1].NextCursor
}

// Exhausted сообщает, что все страницы представления уже загружены.
func (e Entry) Exhausted() bool {
	return len(e.Pages) > 0 && e.NextCursor() == ""
}

type entry struct {
	key           domain.ViewKey
	pages         []domain.Page
	status        Status
	lastFetchedAt time.Time
	err           error
	hasData       bool
	inflight      bool

	// invalidations растёт при каждой инвалидации; fetchedSeq — её значение
	// на момент старта последней успешной выборки.
	invalidations uint64
	fetchedSeq    uint64
	// generation меняется при каждой замене данных целиком.
	generation uint64
}

func (e *entry) stale() bool {
	return e.invalidations != e.fetchedSeq
}

func (e *entry) nextCursor() string {
	if len(e.pages) == 0 {
		return ""
	}
	return e.pages[len(e.pages)-1].NextCursor
}

func (e *entry) snapshot() Entry {
	pages := make([]domain.Page, len(e.pages))
	for i, p := range e.pages {
		pages[i] = domain.Page{
			Items:      append([]domain.PostSummary(nil), p.Items...),
			NextCursor: p.NextCursor,
		}
	}
	return Entry{
		Key:           e.key,
		Pages:         pages,
		Status:        e.status,
		LastFetchedAt: e.lastFetchedAt,
		Err:           e.err,
		Stale:         e.stale(),
	}
}

func (e *entry) seenIDs() map[string]struct{} {
	seen := make(map[string]struct{})
	for _, p := range e.pages {
		for _, item := range p.Items {
			seen[item.ID] = struct{}{}
		}
	}
	return seen
}

// dedupe убирает посты, id которых уже встречались.
func dedupe(items []domain.PostSummary, seen map[string]struct{}) []domain.PostSummary {
	out := make([]domain.PostSummary, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}
