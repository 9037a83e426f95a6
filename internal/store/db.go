// Package store owns cache.db, the durable SQLite database behind the
// sqlite cache backend.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/matheus3301/complaintfeed/internal/store/migrations"
)

// DB is an open cache database with its schema applied.
type DB struct {
	*sql.DB
	// Schema is the migration state observed when the database was opened.
	Schema Schema
}

// Schema reports the migration version of the database.
type Schema struct {
	Version uint
	Dirty   bool
	// Changed is true when Open applied at least one migration.
	Changed bool
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_synchronous", "NORMAL")
	return path + "?" + q.Encode()
}

// Open opens the database at path and runs pending migrations.
// A single connection is kept; the pager is the only writer.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	db := &DB{DB: sqlDB}
	if db.Schema, err = db.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies pending migrations. It is a no-op on an up to date schema.
func (db *DB) Migrate() (Schema, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return Schema{}, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return Schema{}, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return Schema{}, fmt.Errorf("migration instance: %w", err)
	}

	changed := true
	if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
		changed = false
	} else if err != nil {
		return Schema{}, fmt.Errorf("migration up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return Schema{}, fmt.Errorf("migration version: %w", err)
	}
	return Schema{Version: version, Dirty: dirty, Changed: changed}, nil
}
