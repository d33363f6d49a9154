package chainlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"math/big"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// DefaultGasPrice is used until SetGasPrice is called.
var DefaultGasPrice = big.NewInt(1_000_000_000)

// Options configures a Chain.
type Options struct {
	// Network is the chain id stamped on first open.
	Network string

	// ManualMining leaves submitted transactions pending until Mine runs.
	ManualMining bool

	Now func() time.Time
}

// Chain is a SQLite-backed append-only ledger implementing ledger.Chain and
// ledger.Submitter.
type Chain struct {
	db   *sql.DB
	opts Options
}

// Open creates or opens a chain database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string, opts Options) (*Chain, error) {
	if opts.Network == "" {
		return nil, fmt.Errorf("failed to open chain: network id is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chain database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to chain database: %w", err)
	}

	// Single writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	c := &Chain{db: db, opts: opts}
	if err := c.initMeta(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database connection.
func (c *Chain) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("chain database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// initMeta stamps the network id and gas price on a fresh database. An
// existing database keeps its network; opening it as another is an error.
func (c *Chain) initMeta() error {
	_, err := c.db.Exec(`
		INSERT INTO meta (key, value) VALUES ('network_id', ?), ('gas_price', ?)
		ON CONFLICT(key) DO NOTHING
	`, c.opts.Network, DefaultGasPrice.String())
	if err != nil {
		return fmt.Errorf("init meta: %w", err)
	}

	var stored string
	if err := c.db.QueryRow(`SELECT value FROM meta WHERE key = 'network_id'`).Scan(&stored); err != nil {
		return fmt.Errorf("read network id: %w", err)
	}
	if stored != c.opts.Network {
		return fmt.Errorf("chain database belongs to network %q, not %q", stored, c.opts.Network)
	}
	return nil
}

// SetGasPrice changes the gas price used for fee estimates.
func (c *Chain) SetGasPrice(ctx context.Context, price *big.Int) error {
	if price == nil || price.Sign() < 0 {
		return fmt.Errorf("set gas price: must be non-negative")
	}
	_, err := c.db.ExecContext(ctx, `UPDATE meta SET value = ? WHERE key = 'gas_price'`, price.String())
	if err != nil {
		return fmt.Errorf("set gas price: %w", err)
	}
	return nil
}
