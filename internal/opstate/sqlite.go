package opstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/roach88/triad/internal/model"
)

// SQLiteRepository implements Repository backed by a local SQLite database.
// The full operation is stored as JSON; id, key and phase are mirrored into
// columns for lookups.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// OpenSQLite creates or opens a SQLite database at path. The parent
// directory is created if it does not exist.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("opstate: failed to create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opstate: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// migrate creates the operations table if it doesn't exist. The partial
// index lets a failed operation's key be reused by a fresh attempt.
func (r *SQLiteRepository) migrate() error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS operations (
			id              TEXT    PRIMARY KEY,
			idempotency_key TEXT    NOT NULL DEFAULT '',
			phase           TEXT    NOT NULL,
			state           TEXT    NOT NULL,
			created_at_ns   INTEGER NOT NULL,
			updated_at_ns   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_operations_phase ON operations(phase);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_operations_live_key
			ON operations(idempotency_key)
			WHERE idempotency_key <> '' AND phase <> 'failed';
	`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("opstate: migration failed: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Create(ctx context.Context, op *model.OperationState) error {
	state, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("opstate: encode %s: %w", op.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO operations (id, idempotency_key, phase, state, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.IdempotencyKey, string(op.Phase), string(state),
		op.CreatedAt.UnixNano(), op.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err, "idempotency_key") {
			return fmt.Errorf("idempotency key %q: %w", op.IdempotencyKey, model.ErrDuplicateIntent)
		}
		return fmt.Errorf("opstate: insert %s: %w", op.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*model.OperationState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT state FROM operations WHERE id = ?`, id)
	op, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", id, model.ErrOperationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opstate: get %s: %w", id, err)
	}
	return op, nil
}

func (r *SQLiteRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.OperationState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT state FROM operations
		WHERE idempotency_key = ? AND idempotency_key <> '' AND phase <> 'failed'`, key)
	op, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("idempotency key %q: %w", key, model.ErrOperationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opstate: find key %q: %w", key, err)
	}
	return op, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, op *model.OperationState) error {
	state, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("opstate: encode %s: %w", op.ID, err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE operations SET idempotency_key = ?, phase = ?, state = ?, updated_at_ns = ?
		WHERE id = ?`,
		op.IdempotencyKey, string(op.Phase), string(state), op.UpdatedAt.UnixNano(), op.ID,
	)
	if err != nil {
		return fmt.Errorf("opstate: update %s: %w", op.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("operation %s: %w", op.ID, model.ErrOperationNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListByPhase(ctx context.Context, phases ...model.Phase) ([]model.OperationState, error) {
	if len(phases) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(phases)), ",")
	args := make([]any, len(phases))
	for i, p := range phases {
		args[i] = string(p)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT state FROM operations
		WHERE phase IN (`+placeholders+`)
		ORDER BY created_at_ns ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("opstate: list: %w", err)
	}
	defer rows.Close()

	var out []model.OperationState
	for rows.Next() {
		op, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("opstate: list: %w", err)
		}
		out = append(out, *op)
	}
	return out, rows.Err()
}

// Close releases database resources.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*model.OperationState, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	var op model.OperationState
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &op, nil
}

func isUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
