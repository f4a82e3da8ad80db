package subscription

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientState(t *testing.T) {
	state := ClientState("conn-1", "secret")
	assert.Len(t, state, 32)

	// Stable for the same inputs, distinct across connections.
	assert.Equal(t, state, ClientState("conn-1", "secret"))
	assert.NotEqual(t, state, ClientState("conn-2", "secret"))
	assert.NotEqual(t, state, ClientState("conn-1", "other"))
}

func TestPostgresRepoSaveUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	expires := now.Add(4230 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_subscriptions`)).
		WithArgs("conn-1", "remote-1", "/drives/d1/root", "state123", StatusActive, expires).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("sub-1", now, now))

	repo := NewPostgresRepo(db)
	sub := &Subscription{
		ConnectionID: "conn-1",
		RemoteID:     "remote-1",
		Resource:     "/drives/d1/root",
		ClientState:  "state123",
		ExpiresAt:    expires,
	}
	require.NoError(t, repo.Save(context.Background(), sub))
	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, StatusActive, sub.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoListExpiring(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	cutoff := now.Add(48 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "connection_id", "remote_id", "resource", "client_state",
		"status", "notification_count", "expires_at", "created_at", "updated_at"}).
		AddRow("sub-1", "conn-1", "remote-1", "/drives/d1/root", "state123", StatusActive, 7, now.Add(time.Hour), now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE expires_at < $1`)).
		WithArgs(cutoff).
		WillReturnRows(rows)

	repo := NewPostgresRepo(db)
	subs, err := repo.ListExpiring(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "remote-1", subs[0].RemoteID)
	assert.Equal(t, StatusActive, subs[0].Status)
	assert.EqualValues(t, 7, subs[0].NotificationCount)
}

func TestPostgresRepoRecordNotification(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`SET notification_count = notification_count + 1`)).
		WithArgs("sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepo(db)
	require.NoError(t, repo.RecordNotification(context.Background(), "sub-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoUpdateExpiryReactivates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expires := time.Now().Add(4230 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta(`SET expires_at = $1, status = 'active'`)).
		WithArgs(expires, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepo(db)
	require.NoError(t, repo.UpdateExpiry(context.Background(), "sub-1", expires))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepoGetByRemoteIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE remote_id = $1`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewPostgresRepo(db)
	_, err = repo.GetByRemoteID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
