package weaviate

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docsync/internal/ingest"
	"docsync/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) UpsertChunks(ctx context.Context, chunks []ingest.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, &models.Object{
			Class: vector.ClassName,
			ID:    strfmt.UUID(ingest.ChunkVectorID(c.DocumentID, c.ChunkIndex)),
			Properties: map[string]interface{}{
				"content":      c.Content,
				"documentId":   c.DocumentID,
				"connectionId": c.ConnectionID,
				"itemId":       c.ItemID,
				"path":         c.Path,
				"mimeType":     c.MimeType,
				"chunkIndex":   c.ChunkIndex,
				"pageNumber":   c.PageNumber,
				"sectionTitle": c.SectionTitle,
			},
			Vector: c.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert: %s", item.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// DeleteStale prunes a document's objects at chunk indexes past the new
// chunk count, after a re-ingest produced fewer chunks than before.
func (s *Store) DeleteStale(ctx context.Context, documentID string, fromIndex int) error {
	return s.deleteWhere(ctx, filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"documentId"}).
				WithOperator(filters.Equal).
				WithValueString(documentID),
			filters.Where().
				WithPath([]string{"chunkIndex"}).
				WithOperator(filters.GreaterThanEqual).
				WithValueInt(int64(fromIndex)),
		}))
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.deleteWhere(ctx, filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueString(documentID))
}

func (s *Store) DeleteByConnection(ctx context.Context, connectionID string) error {
	return s.deleteWhere(ctx, filters.Where().
		WithPath([]string{"connectionId"}).
		WithOperator(filters.Equal).
		WithValueString(connectionID))
}

func (s *Store) deleteWhere(ctx context.Context, where *filters.WhereBuilder) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	return err
}

// SearchResult is one retrieved chunk with its relevance score.
type SearchResult struct {
	Content      string
	DocumentID   string
	ItemID       string
	Path         string
	MimeType     string
	ChunkIndex   int
	PageNumber   int
	SectionTitle string
	Score        float32
}

// Query runs a nearVector search, optionally scoped to one connection.
func (s *Store) Query(ctx context.Context, queryVector []float32, connectionID string, limit int) ([]SearchResult, error) {
	near := s.client.GraphQL().NearVectorArgBuilder().WithVector(queryVector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "documentId"},
		{Name: "itemId"},
		{Name: "path"},
		{Name: "mimeType"},
		{Name: "chunkIndex"},
		{Name: "pageNumber"},
		{Name: "sectionTitle"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	q := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(near).
		WithLimit(limit).
		WithFields(fields...)

	if connectionID != "" {
		q = q.WithWhere(filters.Where().
			WithPath([]string{"connectionId"}).
			WithOperator(filters.Equal).
			WithValueString(connectionID))
	}

	res, err := q.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var results []SearchResult
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return results, nil
	}
	rows, ok := data[vector.ClassName].([]interface{})
	if !ok {
		return results, nil
	}
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		r := SearchResult{}
		if v, ok := props["content"].(string); ok {
			r.Content = v
		}
		if v, ok := props["documentId"].(string); ok {
			r.DocumentID = v
		}
		if v, ok := props["itemId"].(string); ok {
			r.ItemID = v
		}
		if v, ok := props["path"].(string); ok {
			r.Path = v
		}
		if v, ok := props["mimeType"].(string); ok {
			r.MimeType = v
		}
		if v, ok := props["chunkIndex"].(float64); ok {
			r.ChunkIndex = int(v)
		}
		if v, ok := props["pageNumber"].(float64); ok {
			r.PageNumber = int(v)
		}
		if v, ok := props["sectionTitle"].(string); ok {
			r.SectionTitle = v
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				r.Score = float32(certainty)
			}
		}
		results = append(results, r)
	}
	return results, nil
}
