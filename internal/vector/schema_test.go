package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type fakeSchemaClient struct {
	exists      bool
	class       *models.Class
	created     *models.Class
	addedProps  []string
	existsErr   error
	createErr   error
	addPropErr  error
	getClassErr error
}

func (f *fakeSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	f.created = class
	return f.createErr
}

func (f *fakeSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return f.class, f.getClassErr
}

func (f *fakeSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	f.addedProps = append(f.addedProps, property.Name)
	return f.addPropErr
}

func TestEnsureSchemaCreatesClass(t *testing.T) {
	fake := &fakeSchemaClient{exists: false}

	err := EnsureSchema(context.Background(), fake)
	require.NoError(t, err)
	require.NotNil(t, fake.created)

	assert.Equal(t, ClassName, fake.created.Class)
	assert.Equal(t, "none", fake.created.Vectorizer)

	names := make([]string, 0, len(fake.created.Properties))
	for _, p := range fake.created.Properties {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{
		"content", "documentId", "connectionId", "itemId",
		"path", "mimeType", "chunkIndex", "pageNumber", "sectionTitle",
	}, names)
}

func TestEnsureSchemaBackfillsProperties(t *testing.T) {
	fake := &fakeSchemaClient{
		exists: true,
		class: &models.Class{
			Class: ClassName,
			Properties: []*models.Property{
				{Name: "content"},
				{Name: "documentId"},
				{Name: "connectionId"},
				{Name: "itemId"},
				{Name: "path"},
				{Name: "mimeType"},
				{Name: "chunkIndex"},
			},
		},
	}

	err := EnsureSchema(context.Background(), fake)
	require.NoError(t, err)
	assert.Nil(t, fake.created)
	assert.ElementsMatch(t, []string{"pageNumber", "sectionTitle"}, fake.addedProps)
}

func TestEnsureSchemaNoChanges(t *testing.T) {
	full := []*models.Property{
		{Name: "content"}, {Name: "documentId"}, {Name: "connectionId"},
		{Name: "itemId"}, {Name: "path"}, {Name: "mimeType"},
		{Name: "chunkIndex"}, {Name: "pageNumber"}, {Name: "sectionTitle"},
	}
	fake := &fakeSchemaClient{exists: true, class: &models.Class{Class: ClassName, Properties: full}}

	err := EnsureSchema(context.Background(), fake)
	require.NoError(t, err)
	assert.Empty(t, fake.addedProps)
}

func TestEnsureSchemaPropagatesErrors(t *testing.T) {
	boom := errors.New("schema unavailable")

	err := EnsureSchema(context.Background(), &fakeSchemaClient{existsErr: boom})
	assert.ErrorIs(t, err, boom)

	err = EnsureSchema(context.Background(), &fakeSchemaClient{exists: true, getClassErr: boom})
	assert.ErrorIs(t, err, boom)
}
