package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, title, category, status, start_time, end_time,
	external_game_id, resolved_outcome_id, resolved_at, created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.Title, &m.Category, &status,
		&m.StartTime, &m.EndTime,
		&m.ExternalGameID, &m.ResolvedOutcomeID, &m.ResolvedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

func scanMarketRows(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListResolvable returns open or in-progress markets that ended before cutoff.
func (s *MarketStore) ListResolvable(ctx context.Context, cutoff time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE status IN ('open', 'in_progress') AND end_time < $1
		ORDER BY end_time ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolvable markets: %w", err)
	}
	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolvable markets: %w", err)
	}
	return markets, nil
}

// ListSettledWithPending returns settled markets that still carry predictions
// that were neither scored nor voided.
func (s *MarketStore) ListSettledWithPending(ctx context.Context, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets m
		WHERE m.status IN ('resolved', 'canceled')
		  AND EXISTS (
			SELECT 1 FROM predictions p
			WHERE p.market_id = m.id AND p.brier_score IS NULL AND p.voided_at IS NULL
		  )
		ORDER BY m.end_time ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled markets with pending predictions: %w", err)
	}
	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled markets: %w", err)
	}
	return markets, nil
}

// ListOutcomes returns the outcomes of a market.
func (s *MarketStore) ListOutcomes(ctx context.Context, marketID string) ([]domain.Outcome, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT id, market_id, name, value FROM outcomes WHERE market_id = $1 ORDER BY id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes %s: %w", marketID, err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Name, &o.Value); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outcomes rows: %w", err)
	}
	return outcomes, nil
}

// Resolve marks an open market as resolved with the winning outcome. It
// reports false when the market was already settled.
func (s *MarketStore) Resolve(ctx context.Context, id, outcomeID string, at time.Time) (bool, error) {
	const query = `
		UPDATE markets
		SET status = 'resolved', resolved_outcome_id = $2, resolved_at = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('open', 'in_progress')`

	tag, err := conn(ctx, s.pool).Exec(ctx, query, id, outcomeID, at)
	if err != nil {
		return false, fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel marks an open market as canceled. It reports false when the market
// was already settled.
func (s *MarketStore) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `
		UPDATE markets
		SET status = 'canceled', resolved_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('open', 'in_progress')`

	tag, err := conn(ctx, s.pool).Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("postgres: cancel market %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListSettled returns settled markets with their prediction count and average
// Brier score, most recently settled first.
func (s *MarketStore) ListSettled(ctx context.Context, opts domain.ListOpts) ([]domain.SettledMarket, error) {
	query := `
		SELECT m.id, m.title, m.status, m.resolved_outcome_id, m.resolved_at,
		       COUNT(p.id), AVG(p.brier_score)
		FROM markets m
		LEFT JOIN predictions p ON p.market_id = m.id
		WHERE m.status IN ('resolved', 'canceled')`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND m.resolved_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND m.resolved_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " GROUP BY m.id ORDER BY m.resolved_at DESC NULLS LAST"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled markets: %w", err)
	}
	defer rows.Close()

	var out []domain.SettledMarket
	for rows.Next() {
		var sm domain.SettledMarket
		var status string
		if err := rows.Scan(
			&sm.MarketID, &sm.Title, &status, &sm.ResolvedOutcomeID, &sm.ResolvedAt,
			&sm.PredictionCount, &sm.AvgBrier,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan settled market: %w", err)
		}
		sm.Status = domain.MarketStatus(status)
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settled markets rows: %w", err)
	}
	return out, nil
}
