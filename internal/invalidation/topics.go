// Package invalidation связывает топики изменений с представлениями ленты,
// которые нужно перечитать, когда топик опубликован.
package invalidation

import "strings"

const (
	// TopicGlobal меняется при появлении любого нового поста.
	TopicGlobal = "posts:global"

	prefixFollowed = "posts:followed:"
	prefixTag      = "tag:"
	prefixPost     = "post:"
)

// FollowedTopic — топик ленты подписок пользователя.
func FollowedTopic(userID string) string {
	return prefixFollowed + userID
}

// TagTopic — топик тега. Имя тега приводится к нижнему регистру.
func TagTopic(name string) string {
	return prefixTag + strings.ToLower(strings.TrimSpace(name))
}

// PostTopic — топик отдельного поста (смена картинки и т.п.).
func PostTopic(postID string) string {
	return prefixPost + postID
}

// Class возвращает класс топика для метрик: posts, tag, post или other.
func Class(topic string) string {
	switch {
	case strings.HasPrefix(topic, "posts:"):
		return "posts"
	case strings.HasPrefix(topic, prefixTag):
		return "tag"
	case strings.HasPrefix(topic, prefixPost):
		return "post"
	default:
		return "other"
	}
}

// TopicsForPostCreated возвращает топики для нового поста.
// followers может быть nil, если список подписчиков недоступен: тогда их
// лента подписок обновится только при следующей естественной выборке.
func TopicsForPostCreated(followers []string) []string {
	topics := make([]string, 0, len(followers)+1)
	topics = append(topics, TopicGlobal)
	return append(topics, TopicsForFollowers(followers)...)
}

// TopicsForFollowers возвращает топики лент подписок для списка подписчиков.
func TopicsForFollowers(followers []string) []string {
	topics := make([]string, 0, len(followers))
	for _, id := range followers {
		if id == "" {
			continue
		}
		topics = append(topics, FollowedTopic(id))
	}
	return topics
}

// TopicsForTagFollow — подписка или отписка от тега.
func TopicsForTagFollow(tag string) []string {
	return []string{TagTopic(tag)}
}

// TopicsForUserFollow — подписка на автора меняет ленту подписок самого подписчика.
func TopicsForUserFollow(followerID string) []string {
	return []string{FollowedTopic(followerID)}
}

// TopicsForImageChange — смена картинки поста.
func TopicsForImageChange(postID string) []string {
	return []string{PostTopic(postID)}
}

// TopicsForLike ничего не рассылает: счётчик лайков клиенты патчат локально,
// иначе частое действие вызывало бы шторм перезапросов.
func TopicsForLike() []string {
	return nil
}
