package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var _ domain.EventStore = (*EventStore)(nil)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventColumns = `id, market_id, seq, kind, at, account, question, deadline, side,
	amount::text, yes_total::text, no_total::text`

// Append inserts one event. A duplicate (market_id, seq) is reported as
// domain.ErrAlreadyExists.
func (s *EventStore) Append(ctx context.Context, e domain.Event) error {
	const query = `
		INSERT INTO market_events (
			id, market_id, seq, kind, at, account, question, deadline, side,
			amount, yes_total, no_total
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10::numeric, $11::numeric, $12::numeric
		)`

	var deadline *time.Time
	if !e.Deadline.IsZero() {
		deadline = &e.Deadline
	}
	_, err := s.pool.Exec(ctx, query,
		e.ID, int64(e.MarketID), int64(e.Seq), string(e.Kind), e.At,
		e.Account.Hex(), e.Question, deadline, string(e.Side),
		amountArg(e.Amount), amountArg(e.YesTotal), amountArg(e.NoTotal),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: append event %d/%d: %w", e.MarketID, e.Seq, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: append event %d/%d: %w", e.MarketID, e.Seq, err)
	}
	return nil
}

// ListByMarket returns one market's events in sequence order.
func (s *EventStore) ListByMarket(ctx context.Context, id domain.MarketID) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM market_events WHERE market_id = $1 ORDER BY seq`
	return s.list(ctx, query, int64(id))
}

// ListAll returns the whole log ordered by market, then sequence.
func (s *EventStore) ListAll(ctx context.Context) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM market_events ORDER BY market_id, seq`
	return s.list(ctx, query)
}

func (s *EventStore) list(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		e                domain.Event
		marketID, seq    int64
		kind, side, acct string
		deadline         *time.Time
		amount, yes, no  string
	)
	if err := row.Scan(&e.ID, &marketID, &seq, &kind, &e.At, &acct, &e.Question,
		&deadline, &side, &amount, &yes, &no); err != nil {
		return domain.Event{}, fmt.Errorf("postgres: scan event: %w", err)
	}
	e.MarketID = domain.MarketID(marketID)
	e.Seq = uint64(seq)
	e.Kind = domain.EventKind(kind)
	e.Side = domain.Side(side)
	e.Account = common.HexToAddress(acct)
	e.At = e.At.UTC()
	if deadline != nil {
		e.Deadline = deadline.UTC()
	}

	var err error
	if e.Amount, err = parseAmount(amount); err != nil {
		return domain.Event{}, err
	}
	if e.YesTotal, err = parseAmount(yes); err != nil {
		return domain.Event{}, err
	}
	if e.NoTotal, err = parseAmount(no); err != nil {
		return domain.Event{}, err
	}
	return e, nil
}
