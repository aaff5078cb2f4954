package database

import (
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/kazi/core"
	appfs "github.com/trezcool/kazi/fs"
)

// Supported engines
const (
	Postgres = "postgres"
	SQLite   = "sqlite3"
)

var migrationsDir = "migrations"

func openPostgres(dbName string, admin bool, conf *core.Config) (*sqlx.DB, error) {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   Postgres,
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return sqlx.Open(Postgres, u.String())
}

func openSQLite(conf *core.Config) (*sqlx.DB, error) {
	dsn := conf.Database.Path
	if dsn == "" || dsn == ":memory:" {
		dsn = "file::memory:"
	}
	db, err := sqlx.Open(SQLite, dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// a single connection keeps in-memory databases alive and serializes writers
	db.SetMaxOpenConns(1)
	return db, nil
}

// Open opens the database of the configured engine and waits for it to be ready.
func Open(conf *core.Config) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch conf.Database.Engine {
	case Postgres:
		db, err = openPostgres(conf.Database.Name, false, conf)
	case SQLite:
		db, err = openSQLite(conf)
	default:
		return nil, errors.Errorf("unsupported database engine: %q", conf.Database.Engine)
	}
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sql.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

func exists(db *sqlx.DB, query, name string) (bool, error) {
	var found bool
	rows, err := db.Query(query, name)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err = rows.Scan(&found); err != nil {
			return false, err
		}
	}
	return found, rows.Err()
}

func createAppUser(db *sqlx.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}

	found, err := exists(db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
	if err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if !found {
		q := fmt.Sprintf("CREATE USER %s CREATEDB ENCRYPTED PASSWORD '%s'", conf.Database.User, conf.Database.Password)
		if _, err = db.Exec(q); err != nil {
			return errors.Wrap(err, "creating app user")
		}
	}
	return nil
}

func createDB(db *sqlx.DB, conf *core.Config) error {
	found, err := exists(db, "SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if !found {
		if _, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", conf.Database.Name)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

// CreateIfNotExist creates the app user and the app database. It is a no-op on SQLite.
func CreateIfNotExist(conf *core.Config) error {
	if conf.Database.Engine != Postgres {
		return nil
	}

	// connect as admin
	adminDB, err := openPostgres(Postgres, true, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = adminDB.Close() }()

	if err = ping(adminDB.DB); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(adminDB, conf); err != nil {
		return err
	}

	// create DB as app user
	db, err := openPostgres(Postgres, false, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()
	return createDB(db, conf)
}

// MigrationsDir returns the embedded migrations directory of the engine.
func MigrationsDir(engine string) string {
	return path.Join(migrationsDir, engine)
}

// SetupGoose points goose to the embedded migrations of the db's engine.
func SetupGoose(db *sqlx.DB) error {
	goose.SetBaseFS(appfs.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(db.DriverName()); err != nil {
		return errors.Wrap(err, "setting migrations dialect")
	}
	return nil
}

// Migrate applies every pending migration.
func Migrate(db *sqlx.DB) error {
	if err := SetupGoose(db); err != nil {
		return err
	}
	if err := goose.Up(db.DB, MigrationsDir(db.DriverName())); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

// RunMigrations runs any goose command (up, down, status, version, redo, ...).
func RunMigrations(db *sqlx.DB, command string, args ...string) error {
	if err := SetupGoose(db); err != nil {
		return err
	}
	goose.SetLogger(log.New(os.Stdout, "", 0))
	if err := goose.Run(command, db.DB, MigrationsDir(db.DriverName()), args...); err != nil {
		return errors.Wrapf(err, "running migrations %s", command)
	}
	return nil
}
