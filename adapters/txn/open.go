package txn

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/chararch/bgmigration"
	"github.com/pkg/errors"
)

// Config the database connection settings
type Config struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Open opens a database with one of the registered drivers: mysql, pgx or sqlite
func Open(cfg Config) (*sql.DB, bgmigration.Dialect, error) {
	driver := strings.ToLower(cfg.Driver)
	switch driver {
	case "postgres", "postgresql":
		driver = "pgx"
	case "sqlite3":
		driver = "sqlite"
	}
	dialect, ok := bgmigration.DialectFor(driver)
	if !ok {
		return nil, nil, errors.Errorf("unsupported database driver:%v", cfg.Driver)
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %v database", driver)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, dialect, nil
}
