package migration

import (
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["000001_init.up.sql"])
	assert.True(t, names["000001_init.down.sql"])
}

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return conn
}

func TestApplyAutoMigratesSQLite(t *testing.T) {
	conn := openMemory(t)

	require.NoError(t, Apply(conn, config.Config{DBType: "sqlite", DBAutoMigrate: true}, zap.NewNop()))

	for _, table := range []string{"plans", "customers", "subscriptions", "idempotency_records", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestApplyDisabled(t *testing.T) {
	conn := openMemory(t)

	require.NoError(t, Apply(conn, config.Config{DBType: "postgres"}, zap.NewNop()))
	assert.False(t, conn.Migrator().HasTable("plans"))
}
