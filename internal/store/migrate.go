package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/ims/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

// Migrate runs all pending migrations on the database.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}
	return result(m, m.Up())
}

// Rollback reverts the most recent migration.
func (db *DB) Rollback() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}
	return result(m, m.Steps(-1))
}

func result(m *migrate.Migrate, err error) (*MigrateResult, error) {
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed, err = false, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	return &MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}
