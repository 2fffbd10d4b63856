package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTags — предел тегов у одного поста.
	MaxTags = 10
	// MaxTagLength — предел длины тега в рунах.
	MaxTagLength = 40
)

// NormalizeTag приводит тег к каноничному виду: без пробелов по краям, в нижнем регистре.
func NormalizeTag(raw string) (string, error) {
	tag := strings.ToLower(strings.TrimSpace(raw))
	if tag == "" {
		return "", fmt.Errorf("%w: empty tag", ErrValidation)
	}
	if utf8.RuneCountInString(tag) > MaxTagLength || strings.ContainsAny(tag, ": \t\n") {
		return "", fmt.Errorf("%w: invalid tag %q", ErrValidation, raw)
	}
	return tag, nil
}

// NormalizeTags нормализует теги, убирает пустые и повторы, сохраняя порядок.
func NormalizeTags(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		tag, err := NormalizeTag(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	if len(tags) > MaxTags {
		return nil, fmt.Errorf("%w: at most %d tags", ErrValidation, MaxTags)
	}
	return tags, nil
}
