package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
	"github.com/ggonzalez94/solagent/internal/risk"
)

// Store is the sqlite journal of executions and the persisted circuit
// breaker state. Writers serialize on a file lock so separate CLI processes
// can share it.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

var (
	_ Journal         = (*Store)(nil)
	_ risk.StateStore = (*Store)(nil)
)

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}
	store := &Store{db: db, lock: flock.New(lockPath)}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			executed INTEGER NOT NULL,
			success INTEGER NOT NULL,
			error_code TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at DESC);",
		`CREATE TABLE IF NOT EXISTS breaker_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS limit_overrides (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = store.withLock(ctx, func() error {
		for _, q := range queries {
			if _, err := db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("init journal schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// sqliteDSN sets the busy timeout first on every pooled connection so
// another process holding the database makes us wait rather than fail.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return errors.New("lock journal: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Record appends or replaces the entry for its execution id.
func (s *Store) Record(ctx context.Context, entry JournalEntry) error {
	if strings.TrimSpace(entry.ExecutionID) == "" {
		return errors.New("record execution: missing execution id")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	lockCtx, cancel := lockContext(ctx)
	defer cancel()
	return s.withLock(lockCtx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO executions (execution_id, executed, success, error_code, created_at, payload)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(execution_id) DO UPDATE SET
				executed=excluded.executed,
				success=excluded.success,
				error_code=excluded.error_code,
				payload=excluded.payload
		`, entry.ExecutionID, boolInt(entry.Executed), boolInt(entry.Success), entry.ErrorCode, entry.CreatedAt.UnixNano(), payload)
		if err != nil {
			return fmt.Errorf("record execution: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, executionID string) (JournalEntry, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM executions WHERE execution_id = ?", executionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JournalEntry{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("execution not found: %s", executionID))
		}
		return JournalEntry{}, fmt.Errorf("read execution: %w", err)
	}
	var entry JournalEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return JournalEntry{}, fmt.Errorf("decode execution payload: %w", err)
	}
	return entry, nil
}

type ListFilter struct {
	// ExecutedOnly skips entries that never reached the network.
	ExecutedOnly bool
	FailedOnly   bool
	Limit        int
}

// List returns the most recent entries first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT payload FROM executions"
	var where []string
	if filter.ExecutedOnly {
		where = append(where, "executed = 1")
	}
	if filter.FailedOnly {
		where = append(where, "success = 0")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	entries := make([]JournalEntry, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		var entry JournalEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode execution row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return entries, nil
}

func (s *Store) LoadBreakerState(ctx context.Context) (risk.BreakerState, bool, error) {
	return loadBreakerState(ctx, s.db)
}

// UpdateBreakerState is the only writer of the breaker row. The read and
// the write share one transaction under the journal lock, so concurrent
// processes apply their changes in turn instead of overwriting each other.
func (s *Store) UpdateBreakerState(ctx context.Context, fn func(*risk.BreakerState, bool) bool) (risk.BreakerState, error) {
	var out risk.BreakerState
	lockCtx, cancel := lockContext(ctx)
	defer cancel()
	err := s.withLock(lockCtx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin breaker update: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		state, found, err := loadBreakerState(ctx, tx)
		if err != nil {
			return err
		}
		if !fn(&state, found) {
			out = state
			return nil
		}
		payload, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal breaker state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO breaker_state (id, updated_at, payload) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET updated_at=excluded.updated_at, payload=excluded.payload
		`, time.Now().UTC().UnixNano(), payload); err != nil {
			return fmt.Errorf("save breaker state: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit breaker state: %w", err)
		}
		out = state
		return nil
	})
	return out, err
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadBreakerState(ctx context.Context, q rowQuerier) (risk.BreakerState, bool, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, "SELECT payload FROM breaker_state WHERE id = 1").Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return risk.BreakerState{}, false, nil
		}
		return risk.BreakerState{}, false, fmt.Errorf("read breaker state: %w", err)
	}
	var state risk.BreakerState
	if err := json.Unmarshal(payload, &state); err != nil {
		return risk.BreakerState{}, false, fmt.Errorf("decode breaker state: %w", err)
	}
	return state, true, nil
}

// LoadLimitOverrides returns the operator's persisted limit changes. Fields
// never set stay nil so configured values keep applying.
func (s *Store) LoadLimitOverrides(ctx context.Context) (risk.LimitsUpdate, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM limit_overrides WHERE id = 1").Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return risk.LimitsUpdate{}, nil
		}
		return risk.LimitsUpdate{}, fmt.Errorf("read limit overrides: %w", err)
	}
	var update risk.LimitsUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return risk.LimitsUpdate{}, fmt.Errorf("decode limit overrides: %w", err)
	}
	return update, nil
}

func (s *Store) SaveLimitOverrides(ctx context.Context, update risk.LimitsUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal limit overrides: %w", err)
	}
	lockCtx, cancel := lockContext(ctx)
	defer cancel()
	return s.withLock(lockCtx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO limit_overrides (id, updated_at, payload) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET updated_at=excluded.updated_at, payload=excluded.payload
		`, time.Now().UTC().UnixNano(), payload)
		if err != nil {
			return fmt.Errorf("save limit overrides: %w", err)
		}
		return nil
	})
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
