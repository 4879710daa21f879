// Package database provides the SQLite store behind the DALI bridge.
//
// It owns the connection lifecycle and the schema migrations. Callers get a
// *DB that embeds *sql.DB, so repositories take db.DB directly.
//
// The pool is limited to one connection: SQLite allows a single writer and
// the bridge writes at most one commissioning run at a time.
//
// Migrations are embedded by the migrations package and applied in version
// order. File names follow YYYYMMDD_HHMMSS_description.{up,down}.sql.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
