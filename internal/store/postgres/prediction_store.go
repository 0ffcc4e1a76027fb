package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PredictionStore = (*PredictionStore)(nil)

// NewPredictionStore creates a new PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionCols = `id, agent_id, market_id, outcome_id, probability, rationale,
	brier_score, scored_at, voided_at, created_at, updated_at`

func scanPredictionRows(rows pgx.Rows) ([]domain.Prediction, error) {
	defer rows.Close()
	var preds []domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		if err := rows.Scan(
			&p.ID, &p.AgentID, &p.MarketID, &p.OutcomeID, &p.Probability, &p.Rationale,
			&p.BrierScore, &p.ScoredAt, &p.VoidedAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// ListPending returns unscored, unvoided predictions on a market, oldest first.
func (s *PredictionStore) ListPending(ctx context.Context, marketID string) ([]domain.Prediction, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE market_id = $1 AND brier_score IS NULL AND voided_at IS NULL
		 ORDER BY created_at ASC, id ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending predictions %s: %w", marketID, err)
	}
	preds, err := scanPredictionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending predictions %s: %w", marketID, err)
	}
	return preds, nil
}

// SetScore writes a Brier score once. A prediction that already has a score
// is left untouched and false is returned.
func (s *PredictionStore) SetScore(ctx context.Context, id string, score float64, at time.Time) (bool, error) {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`UPDATE predictions SET brier_score = $2, scored_at = $3, updated_at = NOW()
		 WHERE id = $1 AND brier_score IS NULL`, id, score, at)
	if err != nil {
		return false, fmt.Errorf("postgres: set score %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkVoided flags a prediction on a canceled market once.
func (s *PredictionStore) MarkVoided(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`UPDATE predictions SET voided_at = $2, updated_at = NOW()
		 WHERE id = $1 AND brier_score IS NULL AND voided_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("postgres: void prediction %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListSettledBefore returns scored or voided predictions settled before the
// given time.
func (s *PredictionStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Prediction, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE COALESCE(scored_at, voided_at) < $1
		 ORDER BY COALESCE(scored_at, voided_at) ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled predictions: %w", err)
	}
	preds, err := scanPredictionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled predictions: %w", err)
	}
	return preds, nil
}

// DeleteSettledBefore removes scored or voided predictions settled before the
// given time and returns the number of deleted rows.
func (s *PredictionStore) DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM predictions WHERE COALESCE(scored_at, voided_at) < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settled predictions: %w", err)
	}
	return tag.RowsAffected(), nil
}
