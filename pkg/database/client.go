// Package database provides the Postgres-backed implementation of
// pkg/store.Datastore: connection pooling, migrations, and the hand-written
// SQL behind every Datastore operation (no ORM — channels, messages,
// connector messages, and content are plain relational tables).
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds database connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client wraps a pooled *sql.DB and exposes the Datastore built on top of it.
type Client struct {
	*Store
	db *sql.DB
}

// DB returns the underlying connection pool, for health checks and direct
// queries.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClientFromDB wraps an already-open *sql.DB (used by tests against a
// testcontainers-managed Postgres instance).
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{Store: NewStore(db), db: db}
}

// DSN renders cfg as a libpq keyword/value connection string, usable both by
// database/sql's "pgx" driver and by a dedicated pgx.Conn (e.g. the
// events.NotifyListener's LISTEN connection, which must bypass the pool).
func (cfg Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// NewClient opens a connection pool, applies pending migrations, and
// returns a Client ready to serve Datastore calls.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{Store: NewStore(db), db: db}, nil
}

// RunMigrations applies every embedded migration against db. schemaName is
// handed to golang-migrate as its database name; the migration-state table
// is the postgres driver's default one in db's current schema. Exported for test packages
// that build their own *sql.DB (e.g. against a schema-isolated testcontainer)
// and need to bring it to the current schema without going through NewClient.
func RunMigrations(db *sql.DB, schemaName string) error {
	return runMigrations(db, schemaName)
}

// runMigrations applies every embedded SQL migration under migrations/ that
// hasn't been applied yet, using golang-migrate so re-running on an
// already-current schema is a no-op (migrate.ErrNoChange).
//
// Migration workflow:
//  1. Add a pkg/database/migrations/<n>_<name>.up.sql (+ .down.sql) pair.
//  2. Files are embedded into the binary via go:embed at compile time.
//  3. NewClient applies pending migrations on startup, in order.
func runMigrations(db *sql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source; m.Close() would also close db via
	// the postgres driver it wraps, which this Client still owns.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}
