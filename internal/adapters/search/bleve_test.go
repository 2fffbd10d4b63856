package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedhub/internal/domain"
)

func post(id, title, body string, tags ...string) domain.Post {
	return domain.Post{PostSummary: domain.PostSummary{ID: id, Title: title, Tags: tags}, Body: body}
}

func TestIndexSearch(t *testing.T) {
	idx, err := NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	require.NoError(t, idx.IndexPost(post("p1", "Concurrency in Golang", "channels and goroutines")))
	require.NoError(t, idx.IndexPost(post("p2", "Postgres tuning", "indexes", "databases")))
	require.NoError(t, idx.IndexPost(post("p3", "Weekend notes", "a little golang here")))

	ids, err := idx.Search("golang", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p3"}, ids)
	assert.Equal(t, "p1", ids[0])

	ids, err = idx.Search("databases", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids)

	ids, err = idx.Search("   ", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIndexPostReplacesDocument(t *testing.T) {
	idx, err := NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	require.NoError(t, idx.IndexPost(post("p1", "Old title", "")))
	require.NoError(t, idx.IndexPost(post("p1", "Fresh title", "")))

	ids, err := idx.Search("old", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = idx.Search("fresh", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)
}
