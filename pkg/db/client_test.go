package db

import (
	"context"
	"errors"
	"testing"

	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSQLiteClient(t *testing.T, name string) *Client {
	t.Helper()
	client, err := New(context.Background(), config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    "file:" + name + "?mode=memory&cache=shared",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: config.DriverSQLite}, nil)
	assert.Error(t, err)
}

func TestNewSQLitePings(t *testing.T) {
	client := newSQLiteClient(t, "clienttest_ping")
	assert.True(t, client.IsSQLite())
	assert.NoError(t, client.Ping(context.Background()))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	client := newSQLiteClient(t, "clienttest_rollback")
	require.NoError(t, client.DB().AutoMigrate(&models.Device{}))

	sentinel := errors.New("boom")
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Create(&models.Device{HWID: "dev-1", Tier: "pro"}).Error; err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var count int64
	require.NoError(t, client.DB().Model(&models.Device{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithTxCommits(t *testing.T) {
	client := newSQLiteClient(t, "clienttest_commit")
	require.NoError(t, client.DB().AutoMigrate(&models.Device{}))

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(&models.Device{HWID: "dev-2", Tier: "free"}).Error
	})
	require.NoError(t, err)

	var found models.Device
	require.NoError(t, client.DB().First(&found, "hwid = ?", "dev-2").Error)
	assert.Equal(t, "free", found.Tier)
}
