package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrationsFS embed.FS

// Migrate applies all pending up migrations for the connection's driver.
func Migrate(db *sqlx.DB) error {
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	// Closing the migrator would close db as well; the caller owns it.
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up failed: %w", err)
	}
	return nil
}

// MigrateDown reverts every applied migration.
func MigrateDown(db *sqlx.DB) error {
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down failed: %w", err)
	}
	return nil
}

func newMigrator(db *sqlx.DB) (*migrate.Migrate, error) {
	driverName := db.DriverName()

	source, err := iofs.New(migrationsFS, "migrations/"+driverName)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}

	var target database.Driver
	switch driverName {
	case DriverPostgres:
		target, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case DriverSQLite:
		target, err = sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("init migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, driverName, target)
	if err != nil {
		return nil, fmt.Errorf("init migrator failed: %w", err)
	}
	return migrator, nil
}
