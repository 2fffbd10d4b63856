// Package viewcache — клиентский кэш представлений ленты по схеме
// stale-while-revalidate.
//
// Get никогда не блокирует: отдаёт то, что есть, и при необходимости
// планирует фоновую выборку. На один ключ одновременно выполняется не более
// одной выборки, параллельные запросы получают общий результат.
package viewcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"feedhub/internal/domain"
	"feedhub/internal/infra/metrics"
	"feedhub/internal/invalidation"
)

// ErrSuperseded возвращается AppendPage, если пока страница загружалась,
// данные представления были заменены свежей выборкой.
var ErrSuperseded = errors.New("viewcache: page superseded by revalidation")

// Fetcher загружает одну страницу представления.
type Fetcher interface {
	FetchPage(ctx context.Context, key domain.ViewKey) (domain.Page, error)
}

// Cache хранит записи по ключу представления.
type Cache struct {
	fetcher       Fetcher
	registry      *invalidation.Registry
	log           zerolog.Logger
	now           func() time.Time
	timeout       time.Duration
	defaultWindow domain.Window
	base          context.Context

	group singleflight.Group

	mu        sync.Mutex
	entries   map[string]*entry
	observers map[int]func(Entry)
	nextObs   int
}

// Option настраивает Cache.
type Option func(*Cache)

// WithLogger задаёт логгер.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithFetchTimeout ограничивает длительность одной выборки.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithBaseContext задаёт контекст всех выборок кэша. Через него клиент
// передаёт сессию: кэш принадлежит одному пользователю.
func WithBaseContext(ctx context.Context) Option {
	return func(c *Cache) {
		if ctx != nil {
			c.base = ctx
		}
	}
}

// WithDefaultWindow задаёт окно Top по умолчанию.
func WithDefaultWindow(w domain.Window) Option {
	return func(c *Cache) {
		c.defaultWindow = w
	}
}

// New создаёт кэш. registry может быть nil для анонимного клиента без подписок.
func New(fetcher Fetcher, registry *invalidation.Registry, opts ...Option) *Cache {
	if registry == nil {
		registry = invalidation.NewRegistry("")
	}
	c := &Cache{
		fetcher:       fetcher,
		registry:      registry,
		log:           zerolog.Nop(),
		now:           time.Now,
		timeout:       10 * time.Second,
		defaultWindow: domain.WindowWeek,
		base:          context.Background(),
		entries:       make(map[string]*entry),
		observers:     make(map[int]func(Entry)),
	}
	for _, opt := range opts {
		opt(c)
	}
	registry.OnPublish(func(_ string, keys []domain.ViewKey) {
		c.markStale(keys)
	})
	return c
}

// Registry возвращает реестр инвалидации кэша.
func (c *Cache) Registry() *invalidation.Registry {
	return c.registry
}

// Watch подписывает на изменения записей. Возвращает функцию отписки.
func (c *Cache) Watch(fn func(Entry)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Keys возвращает ключи всех записей.
func (c *Cache) Keys() []domain.ViewKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]domain.ViewKey, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Get синхронно возвращает запись. Отсутствующая запись создаётся пустой со
// статусом Loading, устаревшая отдаётся как есть; в обоих случаях
// планируется фоновая выборка.
func (c *Cache) Get(key domain.ViewKey) Entry {
	key = c.normalize(key)
	c.mu.Lock()
	e, created := c.entryLocked(key)
	schedule := created || (e.stale() && !e.inflight)
	if schedule {
		e.inflight = true
	}
	generation := e.generation
	snap := e.snapshot()
	c.mu.Unlock()

	if schedule {
		go c.background(key, generation)
	}
	return snap
}

// EnsureFresh дожидается актуальных данных. Параллельные вызовы для одного
// ключа сливаются в одну сетевую выборку.
func (c *Cache) EnsureFresh(ctx context.Context, key domain.ViewKey) error {
	key = c.normalize(key)
	c.mu.Lock()
	e, _ := c.entryLocked(key)
	need := !e.hasData || e.stale() || e.status == StatusError || e.inflight
	generation := e.generation
	c.mu.Unlock()
	if !need {
		return nil
	}
	return c.refresh(ctx, key, generation)
}

// AppendPage загружает следующую страницу по курсору записи и дописывает её,
// отбрасывая посты, уже встречавшиеся в представлении. При ошибке
// накопленные страницы не меняются.
func (c *Cache) AppendPage(ctx context.Context, key domain.ViewKey) (domain.Page, error) {
	key = c.normalize(key)
	c.mu.Lock()
	e, _ := c.entryLocked(key)
	if !e.hasData {
		generation := e.generation
		c.mu.Unlock()
		if err := c.refresh(ctx, key, generation); err != nil {
			return domain.Page{}, err
		}
		snap := c.snapshot(key)
		if len(snap.Pages) == 0 {
			return domain.Page{}, nil
		}
		return snap.Pages[0], nil
	}
	cursor := e.nextCursor()
	generation := e.generation
	c.mu.Unlock()

	if cursor == "" {
		return domain.Page{}, nil
	}

	ch := c.group.DoChan("append:"+key.String()+"@"+cursor, func() (any, error) {
		return c.doAppend(key, cursor, generation)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Page{}, res.Err
		}
		return res.Val.(domain.Page), nil
	case <-ctx.Done():
		return domain.Page{}, ctx.Err()
	}
}

// Invalidate публикует топик в реестре: все подписанные представления
// помечаются устаревшими.
func (c *Cache) Invalidate(topic string) []domain.ViewKey {
	return c.registry.Publish(topic)
}

// InvalidateView помечает устаревшим одно представление.
func (c *Cache) InvalidateView(key domain.ViewKey) {
	c.markStale([]domain.ViewKey{c.normalize(key)})
}

func (c *Cache) normalize(key domain.ViewKey) domain.ViewKey {
	return key.Normalize(c.defaultWindow).View()
}

func (c *Cache) entryLocked(key domain.ViewKey) (*entry, bool) {
	if e, ok := c.entries[key.String()]; ok {
		return e, false
	}
	e := &entry{key: key, status: StatusLoading}
	c.entries[key.String()] = e
	c.registry.Register(key)
	return e, true
}

func (c *Cache) snapshot(key domain.ViewKey) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key.String()]; ok {
		return e.snapshot()
	}
	return Entry{Key: key, Status: StatusLoading}
}

func (c *Cache) background(key domain.ViewKey, generation uint64) {
	if err := c.refresh(c.base, key, generation); err != nil {
		c.log.Debug().Err(err).Str("view", key.String()).Msg("viewcache: background revalidation failed")
	}
}

// refresh выполняет выборку первой страницы. observed — поколение данных,
// которое видел вызывающий: если с тех пор данные уже обновились, выборка
// не нужна.
func (c *Cache) refresh(ctx context.Context, key domain.ViewKey, observed uint64) error {
	ch := c.group.DoChan("refresh:"+key.String(), func() (any, error) {
		return nil, c.doRefresh(key, observed)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) doRefresh(key domain.ViewKey, observed uint64) error {
	c.mu.Lock()
	e, _ := c.entryLocked(key)
	if e.generation != observed && e.hasData && !e.stale() && e.status != StatusError {
		e.inflight = false
		c.mu.Unlock()
		return nil
	}
	seq := e.invalidations
	e.inflight = true
	if e.hasData {
		e.status = StatusRevalidating
	} else {
		e.status = StatusLoading
	}
	before := e.snapshot()
	c.mu.Unlock()
	c.notify(before)

	ctx, cancel := context.WithTimeout(c.base, c.timeout)
	defer cancel()
	page, err := c.fetcher.FetchPage(ctx, key.WithCursor(""))
	metrics.IncViewCacheFetch("refresh", err)

	c.mu.Lock()
	e.inflight = false
	if err != nil {
		e.status = StatusError
		e.err = err
		after := e.snapshot()
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("view", key.String()).Msg("viewcache: fetch failed")
		c.notify(after)
		return fmt.Errorf("fetch %s: %w", key.String(), err)
	}
	page.Items = dedupe(page.Items, make(map[string]struct{}))
	e.pages = []domain.Page{page}
	e.hasData = true
	e.err = nil
	e.lastFetchedAt = c.now()
	e.fetchedSeq = seq
	e.generation++
	e.status = StatusIdle
	if e.stale() {
		e.status = StatusRevalidating
	}
	after := e.snapshot()
	c.mu.Unlock()

	c.registry.Observe(key, page.Items, true)
	c.notify(after)
	return nil
}

func (c *Cache) doAppend(key domain.ViewKey, cursor string, generation uint64) (domain.Page, error) {
	ctx, cancel := context.WithTimeout(c.base, c.timeout)
	defer cancel()
	page, err := c.fetcher.FetchPage(ctx, key.WithCursor(cursor))
	metrics.IncViewCacheFetch("append", err)

	c.mu.Lock()
	e := c.entries[key.String()]
	if err != nil {
		e.status = StatusError
		e.err = err
		after := e.snapshot()
		c.mu.Unlock()
		c.notify(after)
		return domain.Page{}, fmt.Errorf("append %s: %w", key.String(), err)
	}
	if e.generation != generation || e.nextCursor() != cursor {
		c.mu.Unlock()
		return domain.Page{}, ErrSuperseded
	}
	page.Items = dedupe(page.Items, e.seenIDs())
	e.pages = append(e.pages, page)
	e.err = nil
	if e.status == StatusError {
		e.status = StatusIdle
		if e.stale() {
			e.status = StatusRevalidating
		}
	}
	after := e.snapshot()
	c.mu.Unlock()

	c.registry.Observe(key, page.Items, false)
	c.notify(after)
	return page, nil
}

func (c *Cache) markStale(keys []domain.ViewKey) {
	var snaps []Entry
	c.mu.Lock()
	for _, key := range keys {
		e, ok := c.entries[key.View().String()]
		if !ok {
			continue
		}
		e.invalidations++
		if e.status != StatusLoading {
			e.status = StatusRevalidating
		}
		snaps = append(snaps, e.snapshot())
	}
	c.mu.Unlock()
	for _, snap := range snaps {
		c.notify(snap)
	}
}

func (c *Cache) notify(snap Entry) {
	c.mu.Lock()
	observers := make([]func(Entry), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()
	for _, fn := range observers {
		fn(snap)
	}
}
