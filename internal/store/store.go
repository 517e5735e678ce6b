package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/wikimannia/refreshstats/internal/model"
	"github.com/wikimannia/refreshstats/internal/store/migrate"
)

var (
	// ErrUnsupportedDriver is returned for drivers other than duckdb, mysql and postgres.
	ErrUnsupportedDriver = errors.New("store: unsupported driver")
	// ErrUnknownField is returned when a summary field is not one of the tracked counters.
	ErrUnknownField = errors.New("store: unknown summary field")
	// ErrNoSummaryRow is returned when the summary record does not exist.
	ErrNoSummaryRow = errors.New("store: summary row missing")
	// ErrInvalidIdentifier is returned for table or column names outside [a-z0-9_].
	ErrInvalidIdentifier = errors.New("store: invalid identifier")
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Supported driver names.
const (
	DriverDuckDB   = "duckdb"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config describes one database connection.
type Config struct {
	// Driver is duckdb, mysql or postgres.
	Driver string
	// DSN is the driver connection string. For duckdb it is the database
	// file path; empty means in-memory.
	DSN string
	// TablePrefix is prepended to every table name.
	TablePrefix  string
	QueryTimeout time.Duration
	MaxOpenConns int
	// Migrate applies the embedded schema on open. Only valid for duckdb.
	Migrate bool
}

// Store runs the counting, summary and conditional-update statements.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dialect      dialect
	prefix       string
	dsn          string
	QueryTimeout time.Duration
}

// Open connects to the configured database.
func Open(cfg Config) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverDuckDB
	}
	cfg.Driver = driver

	if driver == DriverDuckDB && cfg.DSN != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
			return nil, err
		}
	}
	if driver != DriverDuckDB && cfg.Migrate {
		return nil, fmt.Errorf("store: migrations only apply to %s, not %s", DriverDuckDB, driver)
	}
	if _, err := dialectFor(driver); err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s, err := New(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Migrate {
		if err := migrate.NewRunner(db, s.prefix).Run(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an already opened database handle.
func New(db *sql.DB, cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.TablePrefix != "" && !identPattern.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("%w: table prefix %q", ErrInvalidIdentifier, cfg.TablePrefix)
	}

	qt := model.DefaultQueryTimeout
	if cfg.QueryTimeout > 0 {
		qt = cfg.QueryTimeout
	}

	return &Store{
		db:           db,
		dialect:      d,
		prefix:       cfg.TablePrefix,
		dsn:          cfg.DSN,
		QueryTimeout: qt,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// MigrationStatus reports the applied schema version and pending migrations.
func (s *Store) MigrationStatus() (current, pending int, err error) {
	if s.dialect.name != DriverDuckDB {
		return 0, 0, fmt.Errorf("store: migrations only apply to %s", DriverDuckDB)
	}
	return migrate.NewRunner(s.db, s.prefix).Status()
}

// Migrate applies pending embedded migrations.
func (s *Store) Migrate() error {
	if s.dialect.name != DriverDuckDB {
		return fmt.Errorf("store: migrations only apply to %s", DriverDuckDB)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return migrate.NewRunner(s.db, s.prefix).Run()
}
