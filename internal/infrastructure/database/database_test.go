package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB creates a temporary database for testing.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "state", "nested", "dali.db")

		db, err := Open(Config{Path: dbPath, BusyTimeout: 1})
		require.NoError(t, err)
		defer db.Close() //nolint:errcheck // test cleanup

		_, err = os.Stat(filepath.Dir(dbPath))
		assert.NoError(t, err)
		assert.Equal(t, dbPath, db.Path())
	})

	t.Run("single connection", func(t *testing.T) {
		db := openTestDB(t)
		assert.Equal(t, 1, db.Stats().MaxOpenConnections)
	})
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/x.db?_busy_timeout=5000&_foreign_keys=on",
		dsn(Config{Path: "/tmp/x.db", BusyTimeout: 5}))
	assert.Equal(t, "file:/tmp/x.db?_busy_timeout=0&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		dsn(Config{Path: "/tmp/x.db", WALMode: true}))
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, db.HealthCheck(ctx))
}

func TestClose(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db.DB = nil
	assert.NoError(t, db.Close())
}

func TestBeginTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE levels (short_address INTEGER PRIMARY KEY, level INTEGER NOT NULL) STRICT`)
	require.NoError(t, err)

	t.Run("commit", func(t *testing.T) {
		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		_, err = tx.ExecContext(ctx, "INSERT INTO levels VALUES (3, 254)")
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		var level int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT level FROM levels WHERE short_address = 3").Scan(&level))
		assert.Equal(t, 254, level)
	})

	t.Run("rollback", func(t *testing.T) {
		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		_, err = tx.ExecContext(ctx, "INSERT INTO levels VALUES (4, 10)")
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		var n int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM levels WHERE short_address = 4").Scan(&n))
		assert.Zero(t, n)
	})
}
