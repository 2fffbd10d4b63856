package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FeedKind задаёт вид ленты.
type FeedKind string

const (
	FeedGlobal   FeedKind = "global"
	FeedFollowed FeedKind = "followed"
	FeedTop      FeedKind = "top"
)

// ParseFeedKind разбирает вид ленты из строки запроса.
func ParseFeedKind(raw string) (FeedKind, error) {
	switch kind := FeedKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case FeedGlobal, FeedFollowed, FeedTop:
		return kind, nil
	case "":
		return FeedGlobal, nil
	default:
		return "", fmt.Errorf("%w: unknown feed kind %q", ErrValidation, raw)
	}
}

// Order возвращает порядок сортировки для вида ленты.
func (k FeedKind) Order() FeedOrder {
	if k == FeedTop {
		return OrderPopular
	}
	return OrderRecent
}

// Window — временное окно ленты Top.
type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
	WindowAll   Window = "all"
)

// ParseWindow разбирает окно; пустая строка допустима.
func ParseWindow(raw string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(raw))); w {
	case "", WindowDay, WindowWeek, WindowMonth, WindowYear, WindowAll:
		return w, nil
	default:
		return "", fmt.Errorf("%w: unknown window %q", ErrValidation, raw)
	}
}

// Duration возвращает длину окна; для WindowAll ноль (без ограничения).
func (w Window) Duration() time.Duration {
	switch w {
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	case WindowYear:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// ViewKey идентифицирует представление ленты. Курсор не входит в String(),
// поэтому все страницы одного представления подписаны на одни и те же топики.
type ViewKey struct {
	Kind   FeedKind
	Window Window
	Cursor string
}

// Normalize приводит ключ к каноничному виду: окно есть только у Top.
func (k ViewKey) Normalize(defaultWindow Window) ViewKey {
	if k.Kind == "" {
		k.Kind = FeedGlobal
	}
	if k.Kind != FeedTop {
		k.Window = ""
		return k
	}
	if k.Window == "" {
		k.Window = defaultWindow
	}
	if k.Window == "" {
		k.Window = WindowWeek
	}
	return k
}

// Validate проверяет вид и окно.
func (k ViewKey) Validate() error {
	if _, err := ParseFeedKind(string(k.Kind)); err != nil {
		return err
	}
	if _, err := ParseWindow(string(k.Window)); err != nil {
		return err
	}
	if k.Kind != FeedTop && k.Window != "" {
		return fmt.Errorf("%w: window is only valid for top feed", ErrValidation)
	}
	return nil
}

// View возвращает ключ без курсора.
func (k ViewKey) View() ViewKey {
	k.Cursor = ""
	return k
}

// WithCursor возвращает ключ страницы с заданным курсором.
func (k ViewKey) WithCursor(cursor string) ViewKey {
	k.Cursor = cursor
	return k
}

// String — стабильный ключ кэша представления, без курсора.
func (k ViewKey) String() string {
	if k.Window == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + string(k.Window)
}

// PageKey — ключ отдельной страницы, включает курсор.
func (k ViewKey) PageKey() string {
	if k.Cursor == "" {
		return k.String()
	}
	return k.String() + "@" + k.Cursor
}

// ParseViewKey разбирает строку вида "top:week" или "global".
func ParseViewKey(raw string) (ViewKey, error) {
	kindPart, windowPart, _ := strings.Cut(strings.TrimSpace(raw), ":")
	kind, err := ParseFeedKind(kindPart)
	if err != nil {
		return ViewKey{}, err
	}
	window, err := ParseWindow(windowPart)
	if err != nil {
		return ViewKey{}, err
	}
	key := ViewKey{Kind: kind, Window: window}
	return key, key.Validate()
}

// FeedOrder задаёт полный детерминированный порядок постов.
type FeedOrder int

const (
	// OrderRecent: createdAt DESC, id DESC.
	OrderRecent FeedOrder = iota
	// OrderPopular: likeCount DESC, createdAt DESC, id ASC.
	OrderPopular
)

// Before сообщает, идёт ли a раньше b.
func (o FeedOrder) Before(a, b PostSummary) bool {
	if o == OrderPopular {
		if a.LikeCount != b.LikeCount {
			return a.LikeCount > b.LikeCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// AfterCursor сообщает, лежит ли пост строго за курсором.
func (o FeedOrder) AfterCursor(c Cursor, p PostSummary) bool {
	return o.Before(c.anchor(), p)
}

// Cursor — последняя увиденная позиция страницы.
type Cursor struct {
	CreatedAt time.Time
	ID        string
	LikeCount int
}

// CursorAt строит курсор по последнему посту страницы.
func CursorAt(p PostSummary) Cursor {
	return Cursor{CreatedAt: p.CreatedAt, ID: p.ID, LikeCount: p.LikeCount}
}

func (c Cursor) anchor() PostSummary {
	return PostSummary{ID: c.ID, CreatedAt: c.CreatedAt, LikeCount: c.LikeCount}
}

type cursorWire struct {
	T  int64  `json:"t"`
	ID string `json:"id"`
	L  int    `json:"l,omitempty"`
}

// Encode сериализует курсор в непрозрачный токен.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(cursorWire{T: c.CreatedAt.UnixMicro(), ID: c.ID, L: c.LikeCount})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor разбирает токен курсора.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	var w cursorWire
	if err := json.Unmarshal(raw, &w); err != nil || w.ID == "" {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	return Cursor{CreatedAt: time.UnixMicro(w.T).UTC(), ID: w.ID, LikeCount: w.L}, nil
}

// Page — упорядоченная страница ленты. Пустой NextCursor означает конец.
type Page struct {
	Items      []PostSummary
	NextCursor string
}

// Exhausted сообщает, что страниц больше нет.
func (p Page) Exhausted() bool {
	return p.NextCursor == ""
}

type pageWire struct {
	Items      []PostSummary `json:"items"`
	NextCursor *string       `json:"nextCursor"`
}

// MarshalJSON пишет {items, nextCursor}; nextCursor равен null на последней странице.
func (p Page) MarshalJSON() ([]byte, error) {
	w := pageWire{Items: p.Items}
	if w.Items == nil {
		w.Items = []PostSummary{}
	}
	if p.NextCursor != "" {
		cursor := p.NextCursor
		w.NextCursor = &cursor
	}
	return json.Marshal(w)
}

// UnmarshalJSON читает формат MarshalJSON.
func (p *Page) UnmarshalJSON(data []byte) error {
	var w pageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Items = w.Items
	p.NextCursor = ""
	if w.NextCursor != nil {
		p.NextCursor = *w.NextCursor
	}
	return nil
}

// PostQuery — запрос к хранилищу постов.
type PostQuery struct {
	Order FeedOrder
	// AuthorIDs ограничивает авторов, если RestrictAuthors выставлен.
	AuthorIDs       []string
	RestrictAuthors bool
	Since           time.Time
	Until           time.Time
	After           *Cursor
	Limit           int
	ViewerID        string
}
