package repository

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"

	"github.com/chararch/bgmigration"
)

// MigrationsTable the table golang-migrate records the applied schema version in
const MigrationsTable = "bgmigration_schema_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrateSchema creates or upgrades the progress table. The database handle stays open.
func MigrateSchema(db *sql.DB, dialect bgmigration.Dialect) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, errors.Wrap(err, "open embedded migrations")
	}
	var driver database.Driver
	switch dialect.Name() {
	case bgmigration.MySQL.Name():
		driver, err = mysql.WithInstance(db, &mysql.Config{MigrationsTable: MigrationsTable})
	case bgmigration.Postgres.Name():
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: MigrationsTable})
	case bgmigration.SQLite.Name():
		driver, err = sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: MigrationsTable})
	default:
		return 0, errors.Errorf("unsupported dialect:%v", dialect.Name())
	}
	if err != nil {
		return 0, errors.Wrapf(err, "create %v migrate driver", dialect.Name())
	}
	m, err := migrate.NewWithInstance("iofs", src, dialect.Name(), driver)
	if err != nil {
		return 0, errors.Wrap(err, "create migrate instance")
	}
	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, errors.Wrap(err, "apply progress schema")
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	if dirty {
		return version, errors.Errorf("progress schema version %v is dirty", version)
	}
	return version, nil
}
