package store

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"peer-validation/internal/config"
	dbpkg "peer-validation/internal/db"
)

// Set PEERVAL_TEST_DATABASE_URL to a disposable Postgres database to run these.
const testDatabaseEnv = "PEERVAL_TEST_DATABASE_URL"

func newGormStore(t *testing.T) Store {
	dsn := os.Getenv(testDatabaseEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}
	cfg := config.Config{DBDialect: config.DatabaseSchemePostgres, DBDsn: dsn}
	gdb, err := dbpkg.Open(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, dbpkg.AutoMigrate(gdb))
	for _, table := range []string{"votes", "submissions", "ring_assignments", "validator_period_stats", "validators"} {
		require.NoError(t, gdb.Exec("DELETE FROM "+table).Error)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewGorm(gdb)
}

func TestGormContract(t *testing.T) {
	runContract(t, newGormStore)
}
