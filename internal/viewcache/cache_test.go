package viewcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedhub/internal/domain"
	"feedhub/internal/invalidation"
)

var (
	base       = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	globalView = domain.ViewKey{Kind: domain.FeedGlobal}
	topView    = domain.ViewKey{Kind: domain.FeedTop, Window: domain.WindowWeek}
	followView = domain.ViewKey{Kind: domain.FeedFollowed}
)

type fakeFetcher struct {
	mu       sync.Mutex
	posts    []domain.PostSummary
	pageSize int
	err      error
	// overlap повторяет последний пост предыдущей страницы, как при сдвиге выборки.
	overlap bool
	gate    chan struct{}
	started chan struct{}
	calls   atomic.Int32
}

func (f *fakeFetcher) FetchPage(_ context.Context, key domain.ViewKey) (domain.Page, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Page{}, f.err
	}
	order := key.Kind.Order()
	sorted := append([]domain.PostSummary(nil), f.posts...)
	sort.Slice(sorted, func(i, j int) bool { return order.Before(sorted[i], sorted[j]) })

	var items []domain.PostSummary
	if key.Cursor != "" {
		cursor, err := domain.DecodeCursor(key.Cursor)
		if err != nil {
			return domain.Page{}, err
		}
		for _, p := range sorted {
			if f.overlap && p.ID == cursor.ID {
				items = append(items, p)
				continue
			}
			if order.AfterCursor(cursor, p) {
				items = append(items, p)
			}
		}
	} else {
		items = sorted
	}
	size := f.pageSize
	if size == 0 {
		size = 20
	}
	page := domain.Page{}
	if len(items) > size {
		page.Items = items[:size]
		page.NextCursor = domain.CursorAt(items[size-1]).Encode()
	} else {
		page.Items = items
	}
	return page, nil
}

func (f *fakeFetcher) set(fn func(f *fakeFetcher)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func post(id string, minutes, likes int, tags ...string) domain.PostSummary {
	return domain.PostSummary{ID: id, CreatedAt: base.Add(time.Duration(minutes) * time.Minute), LikeCount: likes, Tags: tags}
}

func ids(posts []domain.PostSummary) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func tickingClock() func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func TestGetMissingReturnsPlaceholderAndFetches(t *testing.T) {
	f := &fakeFetcher{posts: []domain.PostSummary{post("p1", 10, 0), post("p2", 9, 0)}}
	c := New(f, nil)

	entry := c.Get(globalView)
	assert.Equal(t, StatusLoading, entry.Status)
	assert.Empty(t, entry.Pages)

	require.Eventually(t, func() bool {
		e := c.Get(globalView)
		return e.Status == StatusIdle && len(e.Posts()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestConcurrentEnsureFreshSingleFetch(t *testing.T) {
	f := &fakeFetcher{
		posts:   []domain.PostSummary{post("p1", 1, 0)},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := New(f, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.EnsureFresh(context.Background(), globalView)
		}()
	}
	<-f.started
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, []string{"p1"}, ids(c.Get(globalView).Posts()))
}

func TestEnsureFreshSkipsFreshEntry(t *testing.T) {
	f := &fakeFetcher{posts: []domain.PostSummary{post("p1", 1, 0)}}
	c := New(f, nil)
	require.NoError(t, c.EnsureFresh(context.Background(), globalView))
	require.NoError(t, c.EnsureFresh(context.Background(), globalView))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestAppendPageDedupesAndKeepsOrder(t *testing.T) {
	for _, view := range []domain.ViewKey{globalView, topView} {
		t.Run(view.String(), func(t *testing.T) {
			f := &fakeFetcher{
				pageSize: 2,
				overlap:  true,
				posts: []domain.PostSummary{
					post("a", 1, 5), post("b", 2, 5), post("c", 3, 1),
					post("d", 4, 9), post("e", 5, 0),
				},
			}
			c := New(f, nil)
			ctx := context.Background()
			require.NoError(t, c.EnsureFresh(ctx, view))
			for i := 0; i < 10 && !c.Get(view).Exhausted(); i++ {
				_, err := c.AppendPage(ctx, view)
				require.NoError(t, err)
			}

			posts := c.Get(view).Posts()
			require.Len(t, posts, 5)
			seen := map[string]bool{}
			for i, p := range posts {
				assert.False(t, seen[p.ID], "дубликат %s", p.ID)
				seen[p.ID] = true
				if i > 0 {
					assert.True(t, view.Kind.Order().Before(posts[i-1], p), "нарушен порядок на %d", i)
				}
			}

			page, err := c.AppendPage(ctx, view)
			require.NoError(t, err)
			assert.Empty(t, page.Items)
			assert.True(t, page.Exhausted())
		})
	}
}

func TestAppendPageOnEmptyEntryLoadsFirstPage(t *testing.T) {
	f := &fakeFetcher{pageSize: 1, posts: []domain.PostSummary{post("p1", 2, 0), post("p2", 1, 0)}}
	c := New(f, nil)
	page, err := c.AppendPage(context.Background(), globalView)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids(page.Items))
	assert.NotEmpty(t, page.NextCursor)
}

func TestAppendFailureKeepsPages(t *testing.T) {
	f := &fakeFetcher{pageSize: 1, posts: []domain.PostSummary{post("p1", 2, 0), post("p2", 1, 0)}}
	c := New(f, nil)
	ctx := context.Background()
	require.NoError(t, c.EnsureFresh(ctx, globalView))

	f.set(func(f *fakeFetcher) { f.err = domain.ErrTransient })
	_, err := c.AppendPage(ctx, globalView)
	require.ErrorIs(t, err, domain.ErrTransient)

	entry := c.Get(globalView)
	assert.Equal(t, StatusError, entry.Status)
	assert.Equal(t, []string{"p1"}, ids(entry.Posts()))
	assert.Len(t, entry.Pages, 1)
}

func TestAppendAfterFailedRevalidationStaysRevalidating(t *testing.T) {
	f := &fakeFetcher{pageSize: 1, posts: []domain.PostSummary{post("p1", 2, 0), post("p2", 1, 0)}}
	c := New(f, invalidation.NewRegistry("u1"))
	ctx := context.Background()
	require.NoError(t, c.EnsureFresh(ctx, globalView))

	c.Invalidate(invalidation.TopicGlobal)
	f.set(func(f *fakeFetcher) { f.err = domain.ErrTransient })
	require.ErrorIs(t, c.EnsureFresh(ctx, globalView), domain.ErrTransient)

	f.set(func(f *fakeFetcher) { f.err = nil })
	page, err := c.AppendPage(ctx, globalView)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids(page.Items))

	entry := c.Get(globalView)
	assert.True(t, entry.Stale)
	assert.Equal(t, StatusRevalidating, entry.Status)
	assert.NoError(t, entry.Err)
}

func TestInvalidateGlobalShowsNewPost(t *testing.T) {
	f := &fakeFetcher{posts: []domain.PostSummary{post("P1", 10, 0), post("P2", 9, 0)}}
	c := New(f, invalidation.NewRegistry("u1"))
	require.NoError(t, c.EnsureFresh(context.Background(), globalView))

	f.set(func(f *fakeFetcher) { f.posts = append(f.posts, post("P3", 11, 0)) })
	keys := c.Invalidate(invalidation.TopicGlobal)
	assert.Contains(t, keys, globalView)

	stale := c.Get(globalView)
	assert.Equal(t, StatusRevalidating, stale.Status)
	assert.Equal(t, []string{"P1", "P2"}, ids(stale.Posts()))

	require.Eventually(t, func() bool {
		e := c.Get(globalView)
		return e.Status == StatusIdle && len(e.Posts()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"P3", "P1", "P2"}, ids(c.Get(globalView).Posts()))
}

func TestInvalidateLeavesUnsubscribedViewsUntouched(t *testing.T) {
	f := &fakeFetcher{posts: []domain.PostSummary{post("p1", 1, 0)}}
	c := New(f, invalidation.NewRegistry("u1"), WithClock(tickingClock()))
	ctx := context.Background()
	require.NoError(t, c.EnsureFresh(ctx, globalView))
	require.NoError(t, c.EnsureFresh(ctx, followView))
	before := c.Get(followView)

	c.Invalidate(invalidation.TopicGlobal)

	after := c.Get(followView)
	assert.Equal(t, before.LastFetchedAt, after.LastFetchedAt)
	assert.Equal(t, StatusIdle, after.Status)
	assert.False(t, after.Stale)
	assert.True(t, c.Get(globalView).Stale || c.Get(globalView).Status != StatusIdle)
}

func TestInvalidateTagTopicHitsOnlyViewsShowingTag(t *testing.T) {
	f := &fakeFetcher{
		pageSize: 1,
		posts:    []domain.PostSummary{post("new", 10, 0, "go"), post("popular", 1, 50, "db")},
	}
	c := New(f, invalidation.NewRegistry("u1"), WithClock(tickingClock()))
	ctx := context.Background()
	require.NoError(t, c.EnsureFresh(ctx, globalView))
	require.NoError(t, c.EnsureFresh(ctx, topView))
	require.Equal(t, []string{"new"}, ids(c.Get(globalView).Posts()))
	require.Equal(t, []string{"popular"}, ids(c.Get(topView).Posts()))
	globalBefore := c.Get(globalView).LastFetchedAt

	keys := c.Invalidate(invalidation.TagTopic("db"))
	assert.Equal(t, []domain.ViewKey{topView}, keys)
	assert.Equal(t, globalBefore, c.Get(globalView).LastFetchedAt)
	assert.Equal(t, StatusIdle, c.Get(globalView).Status)
}

func TestRefreshFailureRetainsData(t *testing.T) {
	f := &fakeFetcher{posts: []domain.PostSummary{post("p1", 1, 0)}}
	c := New(f, nil)
	ctx := context.Background()
	require.NoError(t, c.EnsureFresh(ctx, globalView))

	f.set(func(f *fakeFetcher) { f.err = domain.ErrTransient })
	c.InvalidateView(globalView)
	err := c.EnsureFresh(ctx, globalView)
	require.ErrorIs(t, err, domain.ErrTransient)

	entry := c.Get(globalView)
	assert.Equal(t, StatusError, entry.Status)
	assert.ErrorIs(t, entry.Err, domain.ErrTransient)
	assert.Equal(t, []string{"p1"}, ids(entry.Posts()))

	f.set(func(f *fakeFetcher) { f.err = nil })
	require.NoError(t, c.EnsureFresh(ctx, globalView))
	assert.Equal(t, StatusIdle, c.Get(globalView).Status)
}

func TestPatchPostCounterUpdatesEveryEntry(t *testing.T) {
	f := &fakeFetcher{posts: []domain.PostSummary{post("P1", 1, 3), post("P2", 2, 1)}}
	c := New(f, nil, WithClock(tickingClock()))
	ctx := context.Background()
	require.NoError(t, c.EnsureFresh(ctx, globalView))
	require.NoError(t, c.EnsureFresh(ctx, topView))
	globalAt := c.Get(globalView).LastFetchedAt
	topAt := c.Get(topView).LastFetchedAt
	calls := f.calls.Load()

	n, err := c.PatchPostCounter("P1", FieldLikeCount, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, view := range []domain.ViewKey{globalView, topView} {
		for _, p := range c.Get(view).Posts() {
			if p.ID == "P1" {
				assert.Equal(t, 4, p.LikeCount)
			}
		}
	}
	assert.Equal(t, globalAt, c.Get(globalView).LastFetchedAt)
	assert.Equal(t, topAt, c.Get(topView).LastFetchedAt)
	assert.Equal(t, calls, f.calls.Load())

	_, err = c.PatchPostCounter("P1", "views", 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type fakeLiker struct {
	state domain.LikeState
	err   error
}

func (l *fakeLiker) LikePost(context.Context, string) (domain.LikeState, error) {
	return l.state, l.err
}

func (l *fakeLiker) UnlikePost(context.Context, string) (domain.LikeState, error) {
	return l.state, l.err
}

func TestApplyLike(t *testing.T) {
	f := &fakeFetcher{posts: []domain.PostSummary{post("P1", 1, 3)}}
	c := New(f, nil)
	ctx := context.Background()
	require.NoError(t, c.EnsureFresh(ctx, globalView))

	_, err := c.ApplyLike(ctx, &fakeLiker{err: domain.ErrUnauthenticated}, "P1", true)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Equal(t, 3, c.Get(globalView).Posts()[0].LikeCount)

	state, err := c.ApplyLike(ctx, &fakeLiker{state: domain.LikeState{PostID: "P1", LikeCount: 7, Liked: true}}, "P1", true)
	require.NoError(t, err)
	assert.Equal(t, 7, state.LikeCount)
	got := c.Get(globalView).Posts()[0]
	assert.Equal(t, 7, got.LikeCount)
	assert.True(t, got.Liked)
}

func TestWatchReceivesStatusChanges(t *testing.T) {
	f := &fakeFetcher{posts: []domain.PostSummary{post("p1", 1, 0)}}
	c := New(f, nil)
	var mu sync.Mutex
	var statuses []Status
	cancel := c.Watch(func(e Entry) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, e.Status)
	})
	require.NoError(t, c.EnsureFresh(context.Background(), globalView))
	cancel()
	c.InvalidateView(globalView)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusLoading, StatusIdle}, statuses)
}

func TestEnsureFreshPropagatesCallerCancel(t *testing.T) {
	f := &fakeFetcher{posts: []domain.PostSummary{post("p1", 1, 0)}, gate: make(chan struct{})}
	c := New(f, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.EnsureFresh(ctx, globalView)
	assert.True(t, errors.Is(err, context.Canceled))
	close(f.gate)
	require.Eventually(t, func() bool { return c.Get(globalView).Status == StatusIdle }, time.Second, 5*time.Millisecond)
}
