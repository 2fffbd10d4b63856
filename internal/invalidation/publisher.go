package invalidation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"feedhub/internal/domain"
	"feedhub/internal/infra/metrics"
)

// Transport доставляет топики клиентам.
type Transport interface {
	Send(ctx context.Context, topics []string) error
}

// Publisher — серверная сторона протокола: считает и рассылает топики.
type Publisher struct {
	transport Transport
	log       zerolog.Logger
}

var _ domain.TopicPublisher = (*Publisher)(nil)

// NewPublisher создаёт издателя. transport может быть nil: тогда клиенты
// узнают об изменениях только при следующей выборке.
func NewPublisher(transport Transport, log zerolog.Logger) *Publisher {
	return &Publisher{transport: transport, log: log}
}

// Publish рассылает уникальные топики в исходном порядке.
func (p *Publisher) Publish(ctx context.Context, topics ...string) error {
	topics = uniqueTopics(topics)
	if len(topics) == 0 {
		return nil
	}
	for _, topic := range topics {
		metrics.IncTopic(Class(topic))
	}
	if p.transport == nil {
		p.log.Debug().Strs("topics", topics).Msg("invalidation: no transport, skip")
		return nil
	}
	if err := p.transport.Send(ctx, topics); err != nil {
		return fmt.Errorf("publish topics: %w", err)
	}
	p.log.Debug().Strs("topics", topics).Msg("invalidation: published")
	return nil
}

// Local доставляет топики реестрам в том же процессе.
type Local struct {
	mu         sync.RWMutex
	registries []*Registry
}

// NewLocal создаёт локальный транспорт.
func NewLocal(registries ...*Registry) *Local {
	return &Local{registries: registries}
}

// Attach добавляет реестр.
func (l *Local) Attach(r *Registry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registries = append(l.registries, r)
}

// Send публикует каждый топик в каждом реестре.
func (l *Local) Send(_ context.Context, topics []string) error {
	l.mu.RLock()
	registries := append([]*Registry(nil), l.registries...)
	l.mu.RUnlock()
	for _, r := range registries {
		for _, topic := range topics {
			r.Publish(topic)
		}
	}
	return nil
}

func uniqueTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
