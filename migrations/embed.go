// Package migrations embeds SQL migration files into the binary.
//
// The service runs migrations from the embedded copy, so the SQL files do not
// need to be present on the target filesystem.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
