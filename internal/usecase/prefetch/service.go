// Package prefetch собирает начальное состояние страницы на сервере.
// Сессия пользователя пересылается в API как есть; ошибка сессии
// деградирует до анонимного состояния, а не до ошибки страницы.
package prefetch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"feedhub/internal/domain"
	"feedhub/internal/infra/session"
)

// Fetcher загружает первую страницу представления.
type Fetcher interface {
	FetchPage(ctx context.Context, key domain.ViewKey) (domain.Page, error)
}

// State — документ начального состояния.
type State struct {
	Views               map[string]domain.Page `json:"views"`
	ViewerAuthenticated bool                   `json:"viewer_authenticated"`
	// Failed перечисляет представления, которые не удалось загрузить.
	Failed []string `json:"failed,omitempty"`
}

// Service загружает набор представлений параллельно.
type Service struct {
	log           zerolog.Logger
	fetcher       Fetcher
	views         []domain.ViewKey
	defaultWindow domain.Window
}

// NewService создаёт сервис. views — представления первой отрисовки.
func NewService(fetcher Fetcher, views []domain.ViewKey, defaultWindow domain.Window, logger zerolog.Logger) *Service {
	return &Service{log: logger, fetcher: fetcher, views: views, defaultWindow: defaultWindow}
}

// Initial загружает представления от имени владельца cred.
// Followed без валидной сессии опускается. Прочие ошибки выборки
// попадают в Failed, страница всё равно отдаётся.
func (s *Service) Initial(ctx context.Context, cred session.Credential) State {
	ctx = session.WithCredential(ctx, cred)
	state := State{Views: make(map[string]domain.Page, len(s.views))}

	var (
		mu              sync.Mutex
		unauthenticated bool
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range s.views {
		key := key
		key = key.Normalize(s.defaultWindow).View()
		if key.Kind == domain.FeedFollowed && cred.Empty() {
			continue
		}
		g.Go(func() error {
			page, err := s.fetcher.FetchPage(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				state.Views[key.String()] = page
			case errors.Is(err, domain.ErrUnauthenticated):
				unauthenticated = true
			default:
				s.log.Warn().Err(err).Str("view", key.String()).Msg("prefetch: не удалось загрузить представление")
				state.Failed = append(state.Failed, key.String())
			}
			return nil
		})
	}
	_ = g.Wait()

	state.ViewerAuthenticated = !cred.Empty() && !unauthenticated
	return state
}
