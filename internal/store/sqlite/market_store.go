package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Upsert implements domain.MarketStore. Summaries older than the stored one
// are ignored.
func (s *Store) Upsert(ctx context.Context, m domain.MarketSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markets (
		   id, question, creator, escrow, deadline, created_at, state, resolved,
		   outcome, total_yes, total_no, odds, paid_out, participants, seq
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   state        = excluded.state,
		   resolved     = excluded.resolved,
		   outcome      = excluded.outcome,
		   total_yes    = excluded.total_yes,
		   total_no     = excluded.total_no,
		   odds         = excluded.odds,
		   paid_out     = excluded.paid_out,
		   participants = excluded.participants,
		   seq          = excluded.seq
		 WHERE markets.seq <= excluded.seq`,
		int64(m.ID), m.Question, m.Creator.Hex(), m.Escrow.Hex(),
		toMillis(m.Deadline), toMillis(m.CreatedAt), string(m.State), m.Resolved,
		string(m.Outcome), formatAmount(m.TotalYes), formatAmount(m.TotalNo), int(m.Odds),
		formatAmount(m.PaidOut), m.Participants, int64(m.Seq),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert market %d: %w", m.ID, err)
	}
	return nil
}

const marketColumns = `id, question, creator, escrow, deadline, created_at, state, resolved,
	outcome, total_yes, total_no, odds, paid_out, participants, seq, archived_at`

// GetByID implements domain.MarketStore.
func (s *Store) GetByID(ctx context.Context, id domain.MarketID) (domain.MarketSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = ?`, int64(id))
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MarketSummary{}, fmt.Errorf("sqlite: market %d: %w", id, domain.ErrNotFound)
	}
	return m, err
}

// ListResolvedUnarchived implements domain.MarketStore.
func (s *Store) ListResolvedUnarchived(ctx context.Context, before time.Time, limit int) ([]domain.MarketSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE resolved = 1 AND archived_at IS NULL AND deadline < ?
		 ORDER BY id LIMIT ?`,
		toMillis(before), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list unarchived markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketSummary
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list unarchived markets rows: %w", err)
	}
	return out, nil
}

// MarkArchived implements domain.MarketStore.
func (s *Store) MarkArchived(ctx context.Context, id domain.MarketID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE markets SET archived_at = ? WHERE id = ?`, toMillis(at), int64(id))
	if err != nil {
		return fmt.Errorf("sqlite: mark market %d archived: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: market %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMarket(row scanner) (domain.MarketSummary, error) {
	var (
		m                   domain.MarketSummary
		id, seq             int64
		deadline, createdAt int64
		creator, escrow     string
		state, outcome      string
		totalYes, totalNo   string
		paidOut             string
		odds                int
		archivedAt          sql.NullInt64
	)
	err := row.Scan(&id, &m.Question, &creator, &escrow, &deadline, &createdAt, &state,
		&m.Resolved, &outcome, &totalYes, &totalNo, &odds, &paidOut, &m.Participants, &seq, &archivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MarketSummary{}, err
		}
		return domain.MarketSummary{}, fmt.Errorf("sqlite: scan market: %w", err)
	}
	m.ID = domain.MarketID(id)
	m.Seq = uint64(seq)
	m.Deadline = fromMillis(deadline)
	m.CreatedAt = fromMillis(createdAt)
	m.Creator = common.HexToAddress(creator)
	m.Escrow = common.HexToAddress(escrow)
	m.State = domain.MarketState(state)
	m.Outcome = domain.Side(outcome)
	m.Odds = uint8(odds)
	if archivedAt.Valid {
		at := fromMillis(archivedAt.Int64)
		m.ArchivedAt = &at
	}
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
