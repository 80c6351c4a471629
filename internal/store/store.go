// Package store is the persistence adapter: a thin interface over the
// relational schema the spec fixes (inverter_messages, message_data,
// remote_messages), plus a sqlx-backed implementation good for sqlite3,
// mysql, or postgres (the backend original_source actually ran against, via
// sqlx::Pool<sqlx::Postgres>). Every failure here is logged and swallowed by
// the caller — the relay path never blocks on, or aborts because of, a
// storage error.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migmysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migsqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/solarwatch/growattproxy/pkg/logger"
)

//go:embed migrations/*
var migrationFiles embed.FS

// Store is the persistence capability ProxySession depends on: the three
// insert operations plus Close.
type Store interface {
	InsertInverterMessage(ctx context.Context, raw []byte, typeTag string, header []byte, ts time.Time, serial *string) (int64, error)
	InsertField(ctx context.Context, messageID int64, key, value string) error
	InsertRemoteMessage(ctx context.Context, raw []byte, ts time.Time) (int64, error)
	Close() error
}

type sqlStore struct {
	db     *sqlx.DB
	driver string
	log    logger.Logger
}

// registerHooksOnce guards the one-time sql.Register of each hooked driver,
// one entry per supported backend.
var registerHooksOnce = map[string]*sync.Once{
	"sqlite3":  {},
	"mysql":    {},
	"postgres": {},
}

// Open connects to driver ("sqlite3", "mysql", or "postgres") at dsn,
// tuning the connection pool the way ClusterCockpit-cc-backend's
// dbConnection.go does per backend, and wraps the driver with sqlhooks so
// queries are logged.
func Open(driver, dsn string, log logger.Logger) (Store, error) {
	var hookedDriver string

	switch driver {
	case "sqlite3":
		hookedDriver = "sqlite3WithHooks"
		registerHooksOnce[driver].Do(func() {
			sql.Register(hookedDriver, sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{Log: log}))
		})
	case "mysql":
		hookedDriver = "mysqlWithHooks"
		registerHooksOnce[driver].Do(func() {
			sql.Register(hookedDriver, sqlhooks.Wrap(&mysql.MySQLDriver{}, &Hooks{Log: log}))
		})
	case "postgres":
		hookedDriver = "postgresWithHooks"
		registerHooksOnce[driver].Do(func() {
			sql.Register(hookedDriver, sqlhooks.Wrap(&pq.Driver{}, &Hooks{Log: log}))
			// lib/pq isn't in sqlx's built-in driver-name table under our
			// renamed, hooked driver; without this Rebind would leave "?"
			// placeholders in place instead of rewriting them to "$1", "$2".
			sqlx.BindDriver(hookedDriver, sqlx.DOLLAR)
		})
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sqlx.Open(hookedDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	switch driver {
	case "sqlite3":
		// sqlite does not tolerate concurrent writers; serialize on one
		// connection rather than contend on its file lock.
		db.SetMaxOpenConns(1)
	case "mysql", "postgres":
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
	}

	return &sqlStore{db: db, driver: driver, log: log}, nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

// insertReturningID runs an INSERT and returns its generated id. lib/pq
// doesn't implement sql.Result.LastInsertId (Postgres has no such driver
// concept), so postgres instead appends a RETURNING clause and scans it.
func (s *sqlStore) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	if s.driver == "postgres" {
		var id int64
		err := s.db.QueryRowContext(ctx, s.db.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// keyColumn quotes the message_data.key column the way each driver's SQL
// dialect requires: KEY is reserved in MySQL but not in SQLite or Postgres,
// and Postgres doesn't accept backtick quoting at all.
func (s *sqlStore) keyColumn() string {
	if s.driver == "mysql" {
		return "`key`"
	}
	return "key"
}

func (s *sqlStore) InsertInverterMessage(ctx context.Context, raw []byte, typeTag string, header []byte, ts time.Time, serial *string) (int64, error) {
	id, err := s.insertReturningID(ctx,
		`INSERT INTO inverter_messages (raw, type, header, time, inverter_sn) VALUES (?, ?, ?, ?, ?)`,
		raw, typeTag, header, ts, serial)
	if err != nil {
		return 0, fmt.Errorf("store: insert inverter_messages: %w", err)
	}
	return id, nil
}

func (s *sqlStore) InsertField(ctx context.Context, messageID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(fmt.Sprintf("INSERT INTO message_data (message_id, %s, value) VALUES (?, ?, ?)", s.keyColumn())),
		messageID, key, value)
	if err != nil {
		return fmt.Errorf("store: insert message_data: %w", err)
	}
	return nil
}

func (s *sqlStore) InsertRemoteMessage(ctx context.Context, raw []byte, ts time.Time) (int64, error) {
	id, err := s.insertReturningID(ctx,
		`INSERT INTO remote_messages (raw, time) VALUES (?, ?)`,
		raw, ts)
	if err != nil {
		return 0, fmt.Errorf("store: insert remote_messages: %w", err)
	}
	return id, nil
}

// Migrate runs the embedded schema migrations for driver against dsn,
// grounded on ClusterCockpit-cc-backend's internal/repository/migration.go.
func Migrate(driver, dsn string) error {
	var m *migrate.Migrate

	switch driver {
	case "sqlite3":
		d, err := iofs.New(migrationFiles, "migrations/sqlite3")
		if err != nil {
			return fmt.Errorf("store: load sqlite3 migrations: %w", err)
		}
		m, err = migrate.NewWithSourceInstance("iofs", d, "sqlite3://"+dsn+sqliteForeignKeysParam(dsn))
		if err != nil {
			return fmt.Errorf("store: init sqlite3 migrator: %w", err)
		}
	case "mysql":
		d, err := iofs.New(migrationFiles, "migrations/mysql")
		if err != nil {
			return fmt.Errorf("store: load mysql migrations: %w", err)
		}
		m, err = migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("mysql://%s", dsn))
		if err != nil {
			return fmt.Errorf("store: init mysql migrator: %w", err)
		}
	case "postgres":
		d, err := iofs.New(migrationFiles, "migrations/postgres")
		if err != nil {
			return fmt.Errorf("store: load postgres migrations: %w", err)
		}
		m, err = migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("postgres://%s", dsn))
		if err != nil {
			return fmt.Errorf("store: init postgres migrator: %w", err)
		}
	default:
		return fmt.Errorf("store: unsupported driver %q", driver)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: migrate %s: %w", driver, err)
	}
	return nil
}

// sqliteForeignKeysParam returns the query-string fragment that turns on
// foreign key enforcement, joined with whatever separator dsn's existing
// query string (if any) needs — test DSNs already carry one (e.g.
// "file:x?mode=memory&cache=shared"), and a second "?" would corrupt it.
func sqliteForeignKeysParam(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&_foreign_keys=on"
	}
	return "?_foreign_keys=on"
}

// Version reports the currently applied migration version for db, or 0 if
// no migration has ever run.
func Version(driver string, db *sql.DB) (uint, error) {
	var (
		m   *migrate.Migrate
		err error
	)

	switch driver {
	case "sqlite3":
		var drv migrate.DatabaseDriver
		drv, err = migsqlite3.WithInstance(db, &migsqlite3.Config{})
		if err != nil {
			return 0, fmt.Errorf("store: sqlite3 driver: %w", err)
		}
		d, err2 := iofs.New(migrationFiles, "migrations/sqlite3")
		if err2 != nil {
			return 0, fmt.Errorf("store: load sqlite3 migrations: %w", err2)
		}
		m, err = migrate.NewWithInstance("iofs", d, "sqlite3", drv)
	case "mysql":
		var drv migrate.DatabaseDriver
		drv, err = migmysql.WithInstance(db, &migmysql.Config{})
		if err != nil {
			return 0, fmt.Errorf("store: mysql driver: %w", err)
		}
		d, err2 := iofs.New(migrationFiles, "migrations/mysql")
		if err2 != nil {
			return 0, fmt.Errorf("store: load mysql migrations: %w", err2)
		}
		m, err = migrate.NewWithInstance("iofs", d, "mysql", drv)
	case "postgres":
		var drv migrate.DatabaseDriver
		drv, err = migpostgres.WithInstance(db, &migpostgres.Config{})
		if err != nil {
			return 0, fmt.Errorf("store: postgres driver: %w", err)
		}
		d, err2 := iofs.New(migrationFiles, "migrations/postgres")
		if err2 != nil {
			return 0, fmt.Errorf("store: load postgres migrations: %w", err2)
		}
		m, err = migrate.NewWithInstance("iofs", d, "postgres", drv)
	default:
		return 0, fmt.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return 0, fmt.Errorf("store: init migrator: %w", err)
	}

	v, _, err := m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			return 0, nil
		}
		return 0, fmt.Errorf("store: read version: %w", err)
	}
	return uint(v), nil
}
