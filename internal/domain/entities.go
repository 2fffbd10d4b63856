package domain

import "time"

// User описывает автора или читателя ленты.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// PostSummary — карточка поста в ленте.
// После загрузки меняются только счётчики (лайки), и только точечным патчем.
type PostSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	AuthorID  string    `json:"authorId"`
	Tags      []string  `json:"tags"`
	LikeCount int       `json:"likeCount"`
	CreatedAt time.Time `json:"createdAt"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Liked     bool      `json:"liked,omitempty"`
}

// Post хранит пост вместе с телом. BodyHTML заполняется только при чтении
// одного поста.
type Post struct {
	PostSummary
	Body      string    `json:"body"`
	BodyHTML  string    `json:"bodyHtml,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TagInfo описывает тег и отношение к нему текущего пользователя.
type TagInfo struct {
	Name      string `json:"name"`
	Followers int    `json:"followers"`
	Following bool   `json:"following"`
}

// Session связывает непрозрачный токен из cookie с пользователем.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// LikeState — результат переключения лайка.
type LikeState struct {
	PostID    string `json:"postId"`
	LikeCount int    `json:"likeCount"`
	Liked     bool   `json:"liked"`
}
