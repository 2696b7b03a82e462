package database

import (
	"context"
	"errors"
	"net/url"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/transport-admin-api/pkg/config"
)

func TestDSNEscapesCredentials(t *testing.T) {
	dsn, err := DSN(config.DatabaseConfig{Host: "db.internal", User: "fleet", Password: "p@ss word/1", Name: "transport", SSLMode: "require"})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss word/1", pass)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/transport", u.Path)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
}

func TestDSNPrefersURL(t *testing.T) {
	dsn, err := DSN(config.DatabaseConfig{URL: "postgres://x@y/z", Host: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://x@y/z", dsn)

	_, err = DSN(config.DatabaseConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE grievances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err := WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		_, err := tx.Exec("UPDATE grievances SET status = 'closed'")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = WithTx(context.Background(), db, func(*sqlx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.Panics(t, func() {
		_ = WithTx(context.Background(), db, func(*sqlx.Tx) error { panic("bad state") })
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
