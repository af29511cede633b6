package signal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/newthinker/screener/internal/core"
)

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id       TEXT PRIMARY KEY,
	strategy TEXT NOT NULL,
	symbol   TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	date     TEXT NOT NULL,
	selected INTEGER NOT NULL,
	reason   TEXT NOT NULL DEFAULT '',
	price    REAL NOT NULL,
	UNIQUE (strategy, symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_signals_date ON signals (date);`

// SQLiteStore persists screening signals in a SQLite database, one row per
// strategy, symbol and date.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the
// schema. ":memory:" gives a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("opening %s: %w", dbPath, err))
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("creating schema: %w", err))
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts the signal and returns its ID.
func (s *SQLiteStore) Save(ctx context.Context, sig core.Signal) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO signals (id, strategy, symbol, name, date, selected, reason, price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (strategy, symbol, date) DO UPDATE SET
			name = excluded.name,
			selected = excluded.selected,
			reason = excluded.reason,
			price = excluded.price
		RETURNING id`,
		uuid.NewString(), sig.Strategy, sig.Symbol, sig.Name, formatDate(sig.Date),
		sig.Selected, sig.Reason, sig.Price,
	).Scan(&id)
	if err != nil {
		return "", core.WrapError(core.ErrStorageFailed, fmt.Errorf("saving signal %s: %w", sig.Symbol, err))
	}
	return id, nil
}

// GetByID retrieves a signal by its ID.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*core.Signal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("signal %s not found", id))
	}
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	return &sig, nil
}

// List returns the signals matching filter.
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]core.Signal, error) {
	where, args := whereClause(filter)
	query := `SELECT ` + columns + ` FROM signals` + where + ` ORDER BY date DESC, symbol ASC`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("listing signals: %w", err))
	}
	defer rows.Close()

	result := []core.Signal{}
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, core.WrapError(core.ErrStorageFailed, err)
		}
		result = append(result, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	return result, nil
}

// Count returns the number of signals matching filter.
func (s *SQLiteStore) Count(ctx context.Context, filter ListFilter) (int, error) {
	where, args := whereClause(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`+where, args...).Scan(&n); err != nil {
		return 0, core.WrapError(core.ErrStorageFailed, fmt.Errorf("counting signals: %w", err))
	}
	return n, nil
}

const columns = `id, strategy, symbol, name, date, selected, reason, price`

type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(row scanner) (core.Signal, error) {
	var (
		sig  core.Signal
		date string
	)
	if err := row.Scan(&sig.ID, &sig.Strategy, &sig.Symbol, &sig.Name, &date, &sig.Selected, &sig.Reason, &sig.Price); err != nil {
		return core.Signal{}, err
	}
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return core.Signal{}, fmt.Errorf("parsing date %q: %w", date, err)
	}
	sig.Date = t
	return sig, nil
}

func whereClause(f ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Strategy != "" {
		conds = append(conds, "strategy = ?")
		args = append(args, f.Strategy)
	}
	if f.SelectedOnly {
		conds = append(conds, "selected = 1")
	}
	if !f.From.IsZero() {
		conds = append(conds, "date >= ?")
		args = append(args, formatDate(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "date <= ?")
		args = append(args, formatDate(f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func formatDate(t time.Time) string {
	return core.Date(t).Format(time.DateOnly)
}
