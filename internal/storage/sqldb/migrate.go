package sqldb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrator applies the embedded schema for the configured driver.
type Migrator struct {
	m *migrate.Migrate
}

func NewMigrator(db *sql.DB, driver string) (*Migrator, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationsFS, "migrations/"+d.name)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	var m *migrate.Migrate
	switch d.name {
	case "postgres":
		drv, derr := migratepg.WithInstance(db, &migratepg.Config{})
		if derr != nil {
			return nil, fmt.Errorf("postgres migrate driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", drv)
	case "mysql":
		drv, derr := migratemysql.WithInstance(db, &migratemysql.Config{})
		if derr != nil {
			return nil, fmt.Errorf("mysql migrate driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "mysql", drv)
	}
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return &Migrator{m: m}, nil
}

func (mg *Migrator) Up() error {
	err := mg.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("no migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	v, dirty, _ := mg.m.Version()
	log.Info().Uint("version", v).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

func (mg *Migrator) Down() error {
	err := mg.m.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version returns 0 when no migration has been applied yet.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}
