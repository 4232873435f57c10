package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrate runs the embedded migrations for the store's dialect using the
// already-open connection. The migrate instance is not closed because that
// would close the shared *sql.DB.
func (s *SQLStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+s.dialect)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	var driver database.Driver
	switch s.dialect {
	case dialectPostgres:
		driver, err = postgres.WithInstance(s.conn, &postgres.Config{})
	default:
		driver, err = sqlite.WithInstance(s.conn, &sqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.dialect, driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	log.WithFields(log.Fields{
		"dialect": s.dialect,
		"version": version,
		"dirty":   dirty,
	}).Debug("Database schema up to date")
	return nil
}
