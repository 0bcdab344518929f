package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/savage-app/savage/config"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	defaultPingTimeout  = 5 * time.Second
	defaultConnMaxIdle  = 2 * time.Minute
	defaultConnMaxLife  = 30 * time.Minute
	defaultMaxIdleConns = 5
	defaultMaxOpenConns = 25
)

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	driver := cfg.Database.Driver
	if driver == "" {
		driver = DriverPostgres
	}

	dsn, err := DSN(cfg.Database)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxIdleTime(defaultConnMaxIdle)
		db.SetConnMaxLifetime(defaultConnMaxLife)
		db.SetMaxIdleConns(defaultMaxIdleConns)
		db.SetMaxOpenConns(defaultMaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}

// DSN builds the driver-specific connection string.
func DSN(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		sslmode := "disable"
		if cfg.UseSSL {
			sslmode = "require"
		}

		u := &url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			User:   url.UserPassword(cfg.User, cfg.Password),
			Path:   cfg.DBName,
		}
		q := u.Query()
		q.Set("sslmode", sslmode)
		u.RawQuery = q.Encode()
		return u.String(), nil
	case DriverSQLite:
		if cfg.Path == "" {
			return "", fmt.Errorf("sqlite database path is required")
		}
		return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", cfg.Path), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
