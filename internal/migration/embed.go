package migration

import "embed"

const (
	migrationsDir = "migrations"
	sqliteDir     = "sqlite"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

//go:embed sqlite/*.sql
var embeddedSQLiteSchema embed.FS
