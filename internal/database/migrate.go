package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Migrate applies pending schema migrations from the driver-specific
// subdirectory of migrationsPath.
func (d *Database) Migrate(migrationsPath string) error {
	path := filepath.Join(migrationsPath, d.driver)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("migrations path %s does not exist: %w", path, err)
	}

	var (
		driver migratedb.Driver
		err    error
	)
	switch d.driver {
	case "sqlite":
		driver, err = sqlite3.WithInstance(d.db, &sqlite3.Config{})
	case "mysql":
		driver, err = mysql.WithInstance(d.db, &mysql.Config{})
	case "postgres":
		driver, err = postgres.WithInstance(d.db, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported database driver: %s", d.driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+path, d.driver, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	d.logger.Info("Migrations up to date", zap.String("path", path))
	return nil
}
