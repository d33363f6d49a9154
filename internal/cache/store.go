// Package cache is the relational copy of records used for listing and
// queries. It runs on SQLite (mattn/go-sqlite3) or PostgreSQL (lib/pq)
// through database/sql, with schema managed by goose migrations.
package cache

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config configures a Store.
type Config struct {
	Driver string
	DSN    string

	Timeout       time.Duration
	DegradedAfter time.Duration

	// Now is the clock used for timestamps and grace-period cutoffs.
	Now func() time.Time
}

// Store implements storage.CacheStore.
type Store struct {
	db  *sql.DB
	cfg Config
	log *slog.Logger
}

var _ storage.CacheStore = (*Store)(nil)

// goose keeps its dialect and filesystem in package state.
var migrateMu sync.Mutex

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	case "":
		cfg.Driver = DriverSQLite
	default:
		return nil, fmt.Errorf("cache: unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache: dsn is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}
	if err := migrate(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, cfg: cfg, log: logging.Component("cache")}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

func migrate(ctx context.Context, db *sql.DB, driver string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{log: logging.Component("cache.migrate")})
	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate cache database: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through slog.
type gooseLogger struct {
	log *slog.Logger
}

// Printf logs migration progress at debug level.
func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs a migration failure without exiting the process.
func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Name returns the cache store name.
func (s *Store) Name() string { return model.StoreCache }

// Config reports the driver and the DSN with credentials redacted.
func (s *Store) Config() map[string]string {
	return map[string]string{
		"driver": s.cfg.Driver,
		"dsn":    redactDSN(s.cfg.DSN),
	}
}

// HealthCheck runs SELECT 1 under the configured timeout.
func (s *Store) HealthCheck(ctx context.Context) model.HealthStatus {
	return storage.Probe(ctx, s.Name(), s.cfg.Timeout, s.cfg.DegradedAfter, s.cfg.Now, func(ctx context.Context) error {
		var one int
		return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.cfg.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
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

// redactDSN drops credentials from URL-style DSNs and password= pairs.
func redactDSN(dsn string) string {
	if at := strings.Index(dsn, "@"); at > 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(strings.ToLower(f), "password=") {
			fields[i] = "password=***"
		}
	}
	if len(fields) > 1 {
		return strings.Join(fields, " ")
	}
	return dsn
}
