// Package sqlite stores the market event log and projection in a single
// SQLite file for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	_ domain.EventStore  = (*Store)(nil)
	_ domain.MarketStore = (*Store)(nil)
)

// Store implements both domain.EventStore and domain.MarketStore.
type Store struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single writer keeps appends serialized.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("sqlite: ensure migration table: %w", err)
	}
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		var n int
		if err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("sqlite: check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("sqlite: read migration %s: %w", name, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("sqlite: begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %s: %w", name, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func formatAmount(a domain.Amount) string {
	return strconv.FormatUint(uint64(a), 10)
}

func parseAmount(s string) (domain.Amount, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sqlite: parse amount %q: %w", s, err)
	}
	return domain.Amount(v), nil
}

// Append implements domain.EventStore.
func (s *Store) Append(ctx context.Context, e domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO market_events (
		   id, market_id, seq, kind, at, account, question, deadline, side,
		   amount, yes_total, no_total
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), int64(e.MarketID), int64(e.Seq), string(e.Kind), toMillis(e.At),
		e.Account.Hex(), e.Question, toMillis(e.Deadline), string(e.Side),
		formatAmount(e.Amount), formatAmount(e.YesTotal), formatAmount(e.NoTotal),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: append event %d/%d: %w", e.MarketID, e.Seq, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: append event %d/%d: %w", e.MarketID, e.Seq, err)
	}
	return nil
}

const eventColumns = `id, market_id, seq, kind, at, account, question, deadline, side, amount, yes_total, no_total`

// ListByMarket implements domain.EventStore.
func (s *Store) ListByMarket(ctx context.Context, id domain.MarketID) ([]domain.Event, error) {
	return s.listEvents(ctx, `SELECT `+eventColumns+` FROM market_events WHERE market_id = ? ORDER BY seq`, int64(id))
}

// ListAll implements domain.EventStore.
func (s *Store) ListAll(ctx context.Context) ([]domain.Event, error) {
	return s.listEvents(ctx, `SELECT `+eventColumns+` FROM market_events ORDER BY market_id, seq`)
}

func (s *Store) listEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e               domain.Event
			id, acct        string
			kind, side      string
			marketID, seq   int64
			at, deadline    int64
			amount, yes, no string
		)
		if err := rows.Scan(&id, &marketID, &seq, &kind, &at, &acct, &e.Question, &deadline,
			&side, &amount, &yes, &no); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite: parse event id %q: %w", id, err)
		}
		e.MarketID = domain.MarketID(marketID)
		e.Seq = uint64(seq)
		e.Kind = domain.EventKind(kind)
		e.At = fromMillis(at)
		e.Account = common.HexToAddress(acct)
		e.Deadline = fromMillis(deadline)
		e.Side = domain.Side(side)
		if e.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if e.YesTotal, err = parseAmount(yes); err != nil {
			return nil, err
		}
		if e.NoTotal, err = parseAmount(no); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list events rows: %w", err)
	}
	return events, nil
}
