// Package storage persists users and emergencies through bun on top of either
// SQLite (modernc.org/sqlite) or PostgreSQL (pgx). The dialect is chosen from
// the database URI and the schema is brought up to date with goose on open.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/patric-chuzhbe/emergency/internal/logger"
)

// Dialect is the SQL engine behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	sqliteURIPrefix  = "sqlite:///"
	sqliteMemory     = ":memory:"
	sqlitePragmas    = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	migrationsRoot   = "migrations"
	defaultOpTimeout = 10 * time.Second
)

var (
	//go:embed migrations
	migrationsFS embed.FS

	// goose keeps its dialect and filesystem in package globals.
	gooseMu sync.Mutex

	sqlOpenFunc = sql.Open
)

// Store is the bun-backed persistence layer.
type Store struct {
	db                *bun.DB
	dialect           Dialect
	connectionTimeout time.Duration
}

type initOptions struct {
	skipMigrations bool
}

// InitOption customizes Open.
type InitOption func(*initOptions)

// WithSkipMigrations opens the database without touching the schema.
func WithSkipMigrations() InitOption {
	return func(options *initOptions) {
		options.skipMigrations = true
	}
}

// ParseDatabaseURI splits a database URI into its dialect and the DSN the
// driver expects. SQLite URIs look like sqlite:///relative.db,
// sqlite:////absolute/path.db or sqlite:///:memory:.
func ParseDatabaseURI(uri string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(uri, sqliteURIPrefix):
		path := strings.TrimPrefix(uri, sqliteURIPrefix)
		if path == "" {
			return "", "", fmt.Errorf("sqlite URI %q has no path", uri)
		}
		return DialectSQLite, path + "?" + sqlitePragmas, nil
	case strings.HasPrefix(uri, "postgresql://"), strings.HasPrefix(uri, "postgres://"):
		return DialectPostgres, uri, nil
	default:
		return "", "", fmt.Errorf("unsupported database URI scheme in %q", redactURI(uri))
	}
}

func redactURI(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i+3] + "..."
	}
	return "..."
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, sqliteMemory)
}

// Open connects to the database named by uri and, unless told otherwise,
// applies pending migrations.
func Open(
	ctx context.Context,
	uri string,
	connectionTimeout time.Duration,
	optionsProto ...InitOption,
) (*Store, error) {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	dialect, dsn, err := ParseDatabaseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("in internal/storage/storage.go/Open(): error while `ParseDatabaseURI()` calling: %w", err)
	}

	driverName := "sqlite"
	if dialect == DialectPostgres {
		driverName = "pgx"
	}

	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("in internal/storage/storage.go/Open(): error while `sql.Open()` calling: %w", err)
	}

	// Every connection to :memory: gets its own empty database.
	if dialect == DialectSQLite && isMemoryDSN(dsn) {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	}

	if !options.skipMigrations {
		if err := migrate(ctx, sqlDB, dialect); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	logger.Log.Infow("database opened", "dialect", dialect)

	return newStore(sqlDB, dialect, connectionTimeout), nil
}

func newStore(sqlDB *sql.DB, dialect Dialect, connectionTimeout time.Duration) *Store {
	if connectionTimeout <= 0 {
		connectionTimeout = defaultOpTimeout
	}

	var db *bun.DB
	switch dialect {
	case DialectPostgres:
		db = bun.NewDB(sqlDB, pgdialect.New())
	default:
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	}

	return &Store{
		db:                db,
		dialect:           dialect,
		connectionTimeout: connectionTimeout,
	}
}

func gooseDialect(dialect Dialect) string {
	if dialect == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func migrate(ctx context.Context, sqlDB *sql.DB, dialect Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(logger.GooseLogger{})

	if err := goose.SetDialect(gooseDialect(dialect)); err != nil {
		return fmt.Errorf("in internal/storage/storage.go/migrate(): error while `goose.SetDialect()` calling: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, migrationsRoot+"/"+string(dialect)); err != nil {
		return fmt.Errorf("in internal/storage/storage.go/migrate(): error while `goose.UpContext()` calling: %w", err)
	}

	return nil
}

// SchemaVersion reports the latest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(gooseDialect(s.dialect)); err != nil {
		return 0, err
	}

	return goose.GetDBVersionContext(ctx, s.db.DB)
}

// Dialect returns the SQL engine of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping checks the database connection within the configured timeout.
func (s *Store) Ping(outerCtx context.Context) error {
	ctx, cancel := context.WithTimeout(outerCtx, s.connectionTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("in internal/storage/storage.go/Ping(): error while `s.db.PingContext()` calling: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTimeout(outerCtx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(outerCtx, s.connectionTimeout)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
