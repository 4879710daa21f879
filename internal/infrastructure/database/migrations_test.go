package database

import (
	"context"
	"embed"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useMigrations swaps the package-level migration source for one test.
func useMigrations(t *testing.T, fsys embed.FS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = fsys, dir
	t.Cleanup(func() { MigrationsFS, MigrationsDir = origFS, origDir })
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrationsFS, "testdata")
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))
	assert.True(t, tableExists(t, db, "bus_snapshots"))

	applied, pending, err := db.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "20260101_000000", applied[0].Version)
	assert.False(t, applied[0].AppliedAt.IsZero())
	assert.Empty(t, pending)

	// Idempotent.
	require.NoError(t, db.Migrate(ctx))
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrationsFS, "testdata")
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.MigrateDown(ctx))
	assert.False(t, tableExists(t, db, "bus_snapshots"))

	applied, pending, err := db.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Len(t, pending, 1)

	// Nothing left to roll back.
	assert.NoError(t, db.MigrateDown(ctx))
}

func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, embed.FS{}, ".")
	db := openTestDB(t)

	require.NoError(t, db.Migrate(context.Background()))
}

func TestMigrationStatusBeforeMigrate(t *testing.T) {
	useMigrations(t, testMigrationsFS, "testdata")
	db := openTestDB(t)

	applied, pending, err := db.MigrationStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, "bus_snapshots", pending[0].Name)
	assert.Contains(t, pending[0].DownSQL, "DROP TABLE")
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		ok       bool
	}{
		{"20260301_090000_commissioning_runs.up.sql", migrationFile{"20260301_090000", "commissioning_runs", true}, true},
		{"20260301_090000_commissioning_runs.down.sql", migrationFile{"20260301_090000", "commissioning_runs", false}, true},
		{"20260301_090000.up.sql", migrationFile{"20260301_090000", "20260301_090000", true}, true},
		{"20260301_090000_runs.sql", migrationFile{}, false},
		{"readme.md", migrationFile{}, false},
		{"nounderscore.up.sql", migrationFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFilename(tt.filename)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
