package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var _ domain.MarketStore = (*MarketStore)(nil)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `id, question, creator, escrow, deadline, created_at, state, resolved,
	outcome, total_yes::text, total_no::text, odds, paid_out::text, participants, seq, archived_at`

// Upsert inserts or updates a market summary. A summary older than the
// stored one (lower seq) is ignored; archived_at is never overwritten.
func (s *MarketStore) Upsert(ctx context.Context, m domain.MarketSummary) error {
	const query = `
		INSERT INTO markets (
			id, question, creator, escrow, deadline, created_at,
			state, resolved, outcome, total_yes, total_no, odds,
			paid_out, participants, seq, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10::numeric, $11::numeric, $12,
			$13::numeric, $14, $15, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			state        = EXCLUDED.state,
			resolved     = EXCLUDED.resolved,
			outcome      = EXCLUDED.outcome,
			total_yes    = EXCLUDED.total_yes,
			total_no     = EXCLUDED.total_no,
			odds         = EXCLUDED.odds,
			paid_out     = EXCLUDED.paid_out,
			participants = EXCLUDED.participants,
			seq          = EXCLUDED.seq,
			updated_at   = NOW()
		WHERE markets.seq <= EXCLUDED.seq`

	_, err := s.pool.Exec(ctx, query,
		int64(m.ID), m.Question, m.Creator.Hex(), m.Escrow.Hex(), m.Deadline, m.CreatedAt,
		string(m.State), m.Resolved, string(m.Outcome), amountArg(m.TotalYes), amountArg(m.TotalNo), int16(m.Odds),
		amountArg(m.PaidOut), m.Participants, int64(m.Seq),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market summary by id.
func (s *MarketStore) GetByID(ctx context.Context, id domain.MarketID) (domain.MarketSummary, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE id = $1`
	m, err := scanMarket(s.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketSummary{}, fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
		}
		return domain.MarketSummary{}, err
	}
	return m, nil
}

// ListResolvedUnarchived returns resolved, unarchived markets whose
// deadline is before the cutoff.
func (s *MarketStore) ListResolvedUnarchived(ctx context.Context, before time.Time, limit int) ([]domain.MarketSummary, error) {
	query := `SELECT ` + marketColumns + ` FROM markets
		WHERE resolved AND archived_at IS NULL AND deadline < $1
		ORDER BY id`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unarchived markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.MarketSummary
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unarchived markets rows: %w", err)
	}
	return markets, nil
}

// MarkArchived records when a market's log was archived.
func (s *MarketStore) MarkArchived(ctx context.Context, id domain.MarketID, at time.Time) error {
	const query = `UPDATE markets SET archived_at = $2, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, int64(id), at)
	if err != nil {
		return fmt.Errorf("postgres: mark market %d archived: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.MarketSummary, error) {
	var (
		m                 domain.MarketSummary
		id, seq           int64
		creator, escrow   string
		state, outcome    string
		totalYes, totalNo string
		paidOut           string
		odds              int16
	)
	err := row.Scan(&id, &m.Question, &creator, &escrow, &m.Deadline, &m.CreatedAt,
		&state, &m.Resolved, &outcome, &totalYes, &totalNo, &odds, &paidOut,
		&m.Participants, &seq, &m.ArchivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketSummary{}, err
		}
		return domain.MarketSummary{}, fmt.Errorf("postgres: scan market: %w", err)
	}
	m.ID = domain.MarketID(id)
	m.Seq = uint64(seq)
	m.Creator = common.HexToAddress(creator)
	m.Escrow = common.HexToAddress(escrow)
	m.State = domain.MarketState(state)
	m.Outcome = domain.Side(outcome)
	m.Odds = uint8(odds)
	m.Deadline = m.Deadline.UTC()
	m.CreatedAt = m.CreatedAt.UTC()

	if m.TotalYes, err = parseAmount(totalYes); err != nil {
		return domain.MarketSummary{}, err
	}
	if m.TotalNo, err = parseAmount(totalNo); err != nil {
		return domain.MarketSummary{}, err
	}
	if m.PaidOut, err = parseAmount(paidOut); err != nil {
		return domain.MarketSummary{}, err
	}
	return m, nil
}
