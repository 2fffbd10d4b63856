package invalidation

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"feedhub/internal/domain"
)

// Listener получает ключи представлений, затронутых опубликованным топиком.
type Listener func(topic string, keys []domain.ViewKey)

// Registry хранит подписки топик -> множество представлений.
//
// Статические подписки появляются при регистрации представления (Global и Top
// на posts:global, Followed на posts:followed:<viewer>). Динамические
// (tag:<t>, post:<id>) добавляются по мере того, как посты попадают в
// загруженные страницы представления.
type Registry struct {
	viewerID string
	log      zerolog.Logger

	mu        sync.RWMutex
	topics    map[string]map[string]domain.ViewKey
	static    map[string]map[string]struct{}
	dynamic   map[string]map[string]struct{}
	listeners []Listener
}

// Option настраивает Registry.
type Option func(*Registry)

// WithLogger задаёт логгер.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

// NewRegistry создаёт реестр для клиента с указанным пользователем.
// Пустой viewerID означает анонимного клиента.
func NewRegistry(viewerID string, opts ...Option) *Registry {
	r := &Registry{
		viewerID: viewerID,
		log:      zerolog.Nop(),
		topics:   make(map[string]map[string]domain.ViewKey),
		static:   make(map[string]map[string]struct{}),
		dynamic:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnPublish добавляет слушателя публикаций.
func (r *Registry) OnPublish(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// StaticTopics возвращает топики, на которые представление подписано по определению.
func (r *Registry) StaticTopics(key domain.ViewKey) []string {
	switch key.Kind {
	case domain.FeedGlobal, domain.FeedTop:
		return []string{TopicGlobal}
	case domain.FeedFollowed:
		if r.viewerID == "" {
			return nil
		}
		return []string{FollowedTopic(r.viewerID)}
	default:
		return nil
	}
}

// Register выполняет статическую подписку представления. Повторный вызов безопасен.
func (r *Registry) Register(key domain.ViewKey) {
	key = key.View()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range r.StaticTopics(key) {
		r.subscribeLocked(topic, key)
		addTo(r.static, key.String(), topic)
	}
}

// Subscribe подписывает представление на топик.
func (r *Registry) Subscribe(topic string, key domain.ViewKey) {
	key = key.View()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribeLocked(topic, key)
	if !has(r.static, key.String(), topic) {
		addTo(r.dynamic, key.String(), topic)
	}
}

// Observe подписывает представление на теги и посты из загруженных постов.
// При replace динамические подписки, которых больше нет в данных, снимаются.
func (r *Registry) Observe(key domain.ViewKey, posts []domain.PostSummary, replace bool) {
	key = key.View()
	viewKey := key.String()
	wanted := make(map[string]struct{}, len(posts)*2)
	for _, p := range posts {
		wanted[PostTopic(p.ID)] = struct{}{}
		for _, tag := range p.Tags {
			wanted[TagTopic(tag)] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if replace {
		for topic := range r.dynamic[viewKey] {
			if _, ok := wanted[topic]; ok {
				continue
			}
			delete(r.dynamic[viewKey], topic)
			if !has(r.static, viewKey, topic) {
				r.unsubscribeLocked(topic, viewKey)
			}
		}
	}
	for topic := range wanted {
		r.subscribeLocked(topic, key)
		if !has(r.static, viewKey, topic) {
			addTo(r.dynamic, viewKey, topic)
		}
	}
}

// TopicsFor возвращает все топики представления в отсортированном виде.
func (r *Registry) TopicsFor(key domain.ViewKey) []string {
	viewKey := key.View().String()
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for topic := range r.static[viewKey] {
		seen[topic] = struct{}{}
	}
	for topic := range r.dynamic[viewKey] {
		seen[topic] = struct{}{}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Lookup возвращает представления, подписанные на топик.
func (r *Registry) Lookup(topic string) []domain.ViewKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.topics[topic]
	keys := make([]domain.ViewKey, 0, len(subs))
	for _, key := range subs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Publish синхронно уведомляет слушателей о затронутых представлениях.
// Сетевых вызовов не делает; возвращает затронутые ключи.
func (r *Registry) Publish(topic string) []domain.ViewKey {
	keys := r.Lookup(topic)
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.RUnlock()
	r.log.Debug().Str("topic", topic).Int("views", len(keys)).Msg("invalidation: publish")
	if len(keys) == 0 {
		return keys
	}
	for _, l := range listeners {
		l(topic, keys)
	}
	return keys
}

func (r *Registry) subscribeLocked(topic string, key domain.ViewKey) {
	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[string]domain.ViewKey)
		r.topics[topic] = subs
	}
	subs[key.String()] = key
}

func (r *Registry) unsubscribeLocked(topic, viewKey string) {
	subs := r.topics[topic]
	delete(subs, viewKey)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
}

func addTo(m map[string]map[string]struct{}, viewKey, topic string) {
	set, ok := m[viewKey]
	if !ok {
		set = make(map[string]struct{})
		m[viewKey] = set
	}
	set[topic] = struct{}{}
}

func has(m map[string]map[string]struct{}, viewKey, topic string) bool {
	_, ok := m[viewKey][topic]
	return ok
}
