package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"txcat/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaVersion is the migration state recorded in schema_migrations.
// Version 0 means no migration has run.
type SchemaVersion struct {
	Version uint
	Dirty   bool
}

// ErrDirtySchema means an earlier migration stopped halfway. It needs a
// manual fix and a forced version before the repository will open.
var ErrDirtySchema = errors.New("schema is dirty")

// RunMigrations brings the database at dbPath up to the embedded schema and
// returns the resulting version.
func RunMigrations(dbPath string, logger *log.Logger) (SchemaVersion, error) {
	m, err := newMigrator(dbPath)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer m.Close()

	before, err := schemaVersion(m)
	if err != nil {
		return SchemaVersion{}, err
	}
	if before.Dirty {
		return before, fmt.Errorf("version %d: %w", before.Version, ErrDirtySchema)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("Schema up to date", "schema_version", before.Version)
		return before, nil
	}
	if err != nil {
		// Report where it stopped so the dirty version can be forced
		after, _ := schemaVersion(m)
		return after, fmt.Errorf("migrate from version %d: %w", before.Version, err)
	}

	after, err := schemaVersion(m)
	if err != nil {
		return SchemaVersion{}, err
	}
	logger.Info("Schema migrated",
		"from_version", before.Version,
		"schema_version", after.Version)
	return after, nil
}

// newMigrator opens its own connection; the migrate driver closes it with m.
func newMigrator(dbPath string) (*migrate.Migrate, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open migration database: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		source.Close()
		driver.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func schemaVersion(m *migrate.Migrate) (SchemaVersion, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("read schema version: %w", err)
	}
	return SchemaVersion{Version: v, Dirty: dirty}, nil
}
