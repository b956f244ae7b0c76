package mailbox

import (
	"database/sql"
	"embed"

	"mailflow/pkg/migrations"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate brings the mailbox schema up to date.
func Migrate(db *sql.DB) error {
	return migrations.Postgres(db, migrationFiles, "migrations", "mailbox_schema_migrations")
}
