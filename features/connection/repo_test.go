package connection

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepoSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO connections`)).
		WithArgs("Finance", "drive-1", "", true, "tenant-1", "client-1", "enc-secret", StatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("conn-1", now, now))

	repo := NewPostgresRepo(db)
	conn := &Connection{
		Name:         "Finance",
		DriveID:      "drive-1",
		Recursive:    true,
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		ClientSecret: "enc-secret",
		Status:       StatusPending,
	}
	err = repo.Save(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "conn-1", conn.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "name", "drive_id", "folder_id", "recursive", "tenant_id", "client_id", "client_secret",
		"status", "status_reason", "last_synced_at", "created_at", "updated_at",
	}).AddRow("conn-1", "Finance", "drive-1", "", true, "tenant-1", "client-1", "enc-secret",
		StatusConnected, nil, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, drive_id`)).
		WithArgs("conn-1").
		WillReturnRows(rows)

	repo := NewPostgresRepo(db)
	conn, err := repo.Get(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "Finance", conn.Name)
	assert.Equal(t, StatusConnected, conn.Status)
	assert.Nil(t, conn.LastSyncedAt)
}

func TestPostgresRepoGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, drive_id`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewPostgresRepo(db)
	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepoDeleteNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM connections`)).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresRepo(db)
	err = repo.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
