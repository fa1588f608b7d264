// Package migrations embeds the schema for every supported dialect.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS

// For returns the migration directory for a goose dialect.
func For(dialect string) (fs.FS, error) {
	switch dialect {
	case "postgres", "pgx":
		return fs.Sub(Migrations, "postgres")
	case "sqlite3", "sqlite":
		return fs.Sub(Migrations, "sqlite")
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
}
