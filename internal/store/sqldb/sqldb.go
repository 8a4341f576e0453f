// Package sqldb is the SharedDB degradable-storage layer: a single
// database/sql handle over either Postgres (via pgx's stdlib driver) or an
// embedded sqlite file (via modernc.org/sqlite), with golang-migrate schema
// migrations and a placeholder rebinder so the same query text works
// against both drivers.
package sqldb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Driver identifies which backend a DB handle is open against.
type Driver string

const (
	Postgres Driver = "postgres"
	SQLite   Driver = "sqlite"
)

// DB wraps a *sql.DB with the active driver, so callers can rebind query
// placeholders without threading the driver name everywhere.
type DB struct {
	*sql.DB
	Driver Driver
}

// Open connects to dsn using driver ("postgres" or "sqlite") and runs any
// pending migrations. An empty dsn with driver sqlite opens an in-process
// file at the given path, or ":memory:" for a transient handle.
func Open(driver Driver, dsn string) (*DB, error) {
	var sqlDriverName string
	switch driver {
	case Postgres:
		sqlDriverName = "pgx"
	case SQLite:
		sqlDriverName = "sqlite"
	default:
		return nil, fmt.Errorf("sqldb: unknown driver %q", driver)
	}

	sqlDB, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open %s: %w", driver, err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("sqldb: ping %s: %w", driver, err)
	}

	if err := migrateUp(sqlDB, driver); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqldb: migrate: %w", err)
	}

	return &DB{DB: sqlDB, Driver: driver}, nil
}

func migrateUp(db *sql.DB, driver Driver) error {
	srcDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	var dbDriver migrate.Database
	switch driver {
	case Postgres:
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	case SQLite:
		dbDriver, err = sqlite.WithInstance(db, &sqlite.Config{})
	}
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, string(driver), dbDriver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Rebind returns a function that converts `?`-style placeholders in a
// query to the driver's native style: passthrough for sqlite, `$1,$2,...`
// renumbering for Postgres.
func (db *DB) Rebind() func(string) string {
	if db.Driver != Postgres {
		return func(q string) string { return q }
	}
	return func(q string) string {
		var b strings.Builder
		n := 0
		for _, r := range q {
			if r == '?' {
				n++
				b.WriteByte('$')
				b.WriteString(strconv.Itoa(n))
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	}
}
