// internal/database/connection_test.go
package database

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/config"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), GormConfig("silent"))
	require.NoError(t, err)
	return db, mock
}

func TestWithTransactionCommits(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE popups SET active").
		WithArgs(false, "demo-popup").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := WithTransaction(db, func(tx *gorm.DB) error {
		return tx.Exec("UPDATE popups SET active = ? WHERE slug = ?", false, "demo-popup").Error
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := WithTransaction(db, func(tx *gorm.DB) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = WithTransaction(db, func(tx *gorm.DB) error {
			panic("unexpected")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionReportsBeginFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))

	called := false
	err := WithTransaction(db, func(tx *gorm.DB) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestNewRedis(t *testing.T) {
	ctx := context.Background()

	rdb, err := NewRedis(ctx, config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, rdb)

	mr := miniredis.RunT(t)
	rdb, err = NewRedis(ctx, config.RedisConfig{Enabled: true, Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	require.NotNil(t, rdb)
	defer rdb.Close()
	assert.NoError(t, rdb.Ping(ctx).Err())

	mr.Close()
	_, err = NewRedis(ctx, config.RedisConfig{Enabled: true, Host: mr.Host(), Port: mr.Port()})
	assert.Error(t, err)
}

func TestSeedDevelopmentDataIsIdempotent(t *testing.T) {
	db, mock := newMockDB(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "popups"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	require.NoError(t, SeedDevelopmentData(db, log))
	assert.NoError(t, mock.ExpectationsWereMet())
}
