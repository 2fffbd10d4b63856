// Package search — полнотекстовый индекс постов на bleve.
package search

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"feedhub/internal/domain"
)

const docType = "post"

// Index хранит индекс в памяти процесса; после рестарта он перестраивается из хранилища.
type Index struct {
	index bleve.Index
}

var _ domain.SearchIndex = (*Index)(nil)

type document struct {
	Title  string   `json:"title"`
	Tags   []string `json:"tags"`
	Body   string   `json:"body"`
	Author string   `json:"author"`
}

func (document) BleveType() string {
	return docType
}

// NewMemory создаёт пустой индекс.
func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(indexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &Index{index: idx}, nil
}

func indexMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("title", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("tags", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("body", bleve.NewTextFieldMapping())
	author := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("author", author)
	indexMapping.AddDocumentMapping(docType, docMapping)
	return indexMapping
}

// IndexPost добавляет или обновляет пост.
func (i *Index) IndexPost(post domain.Post) error {
	doc := document{Title: post.Title, Tags: post.Tags, Body: post.Body, Author: post.AuthorID}
	if err := i.index.Index(post.ID, doc); err != nil {
		return fmt.Errorf("failed to index post in bleve: %w", err)
	}
	return nil
}

// Search возвращает id постов по убыванию релевантности.
func (i *Index) Search(text string, limit int) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	title := bleve.NewMatchQuery(text)
	title.SetField("title")
	title.SetBoost(2)
	tags := bleve.NewMatchQuery(text)
	tags.SetField("tags")
	tags.SetBoost(1.5)
	body := bleve.NewMatchQuery(text)
	body.SetField("body")

	request := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(title, tags, body), limit, 0, false)
	result, err := i.index.Search(request)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close закрывает индекс.
func (i *Index) Close() error {
	return i.index.Close()
}
