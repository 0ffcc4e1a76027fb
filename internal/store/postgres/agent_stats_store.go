package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// AgentStatsStore implements domain.AgentStatsStore using PostgreSQL.
type AgentStatsStore struct {
	pool *pgxpool.Pool
	tx   *Transactor
}

var _ domain.AgentStatsStore = (*AgentStatsStore)(nil)

// NewAgentStatsStore creates a new AgentStatsStore backed by the given pool.
func NewAgentStatsStore(pool *pgxpool.Pool) *AgentStatsStore {
	return &AgentStatsStore{pool: pool, tx: NewTransactor(pool)}
}

const agentStatsCols = `agent_id, total, resolved, mean_brier, current_streak, best_streak, updated_at`

func scanAgentStats(row pgx.Row) (domain.AgentStats, error) {
	var st domain.AgentStats
	err := row.Scan(
		&st.AgentID, &st.Total, &st.Resolved, &st.MeanBrier,
		&st.CurrentStreak, &st.BestStreak, &st.UpdatedAt,
	)
	return st, err
}

// Get returns the stats row for an agent.
func (s *AgentStatsStore) Get(ctx context.Context, agentID string) (domain.AgentStats, error) {
	row := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+agentStatsCols+` FROM agent_stats WHERE agent_id = $1`, agentID)
	st, err := scanAgentStats(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AgentStats{}, domain.ErrNotFound
		}
		return domain.AgentStats{}, fmt.Errorf("postgres: get agent stats %s: %w", agentID, err)
	}
	return st, nil
}

// Apply creates the agent row if missing, locks it, lets fn mutate the loaded
// value and writes it back. It joins the caller's transaction when ctx has one.
func (s *AgentStatsStore) Apply(ctx context.Context, agentID string, fn func(*domain.AgentStats)) (domain.AgentStats, error) {
	var out domain.AgentStats
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, s.pool)

		if _, err := q.Exec(ctx,
			`INSERT INTO agent_stats (agent_id) VALUES ($1) ON CONFLICT (agent_id) DO NOTHING`,
			agentID); err != nil {
			return fmt.Errorf("postgres: ensure agent stats %s: %w", agentID, err)
		}

		st, err := scanAgentStats(q.QueryRow(ctx,
			`SELECT `+agentStatsCols+` FROM agent_stats WHERE agent_id = $1 FOR UPDATE`, agentID))
		if err != nil {
			return fmt.Errorf("postgres: lock agent stats %s: %w", agentID, err)
		}

		fn(&st)

		err = q.QueryRow(ctx, `
			UPDATE agent_stats
			SET total = $2, resolved = $3, mean_brier = $4,
			    current_streak = $5, best_streak = $6, updated_at = NOW()
			WHERE agent_id = $1
			RETURNING updated_at`,
			agentID, st.Total, st.Resolved, st.MeanBrier, st.CurrentStreak, st.BestStreak,
		).Scan(&st.UpdatedAt)
		if err != nil {
			return fmt.Errorf("postgres: update agent stats %s: %w", agentID, err)
		}
		out = st
		return nil
	})
	return out, err
}

// Leaderboard returns agents with at least one resolved prediction, best mean
// Brier score first.
func (s *AgentStatsStore) Leaderboard(ctx context.Context, limit, offset int) ([]domain.AgentStats, error) {
	query := `SELECT ` + agentStatsCols + ` FROM agent_stats
		WHERE resolved > 0
		ORDER BY mean_brier ASC, resolved DESC, agent_id ASC`
	args := []any{}
	argIdx := 1
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
		argIdx++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, offset)
	}

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.AgentStats
	for rows.Next() {
		st, err := scanAgentStats(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan leaderboard row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: leaderboard rows: %w", err)
	}
	return out, nil
}
