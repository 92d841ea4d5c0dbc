package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// Apply picks versioned SQL for postgres, the embedded TEXT-decimal schema for
// sqlite and gorm's AutoMigrate for mysql.
func Apply(conn *gorm.DB) error {
	switch conn.Dialector.Name() {
	case "postgres":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	case "sqlite":
		return applySQLite(conn)
	default:
		return conn.AutoMigrate(&usagedomain.RawUsage{})
	}
}

// applySQLite is idempotent; every statement uses IF NOT EXISTS.
func applySQLite(conn *gorm.DB) error {
	entries, err := fs.ReadDir(embeddedSQLiteSchema, sqliteDir)
	if err != nil {
		return fmt.Errorf("open sqlite schema: %w", err)
	}
	for _, e := range entries {
		raw, err := fs.ReadFile(embeddedSQLiteSchema, sqliteDir+"/"+e.Name())
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		for _, stmt := range sqliteStatements(string(raw)) {
			if err := conn.Exec(stmt).Error; err != nil {
				return fmt.Errorf("apply %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

func sqliteStatements(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
