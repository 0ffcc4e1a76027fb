// Package leaderboard maintains per-agent forecasting statistics and ranks
// agents by mean Brier score.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// Aggregator rolls settled predictions into agent_stats rows.
type Aggregator struct {
	store  domain.AgentStatsStore
	logger *slog.Logger
}

// NewAggregator creates an Aggregator over the given store.
func NewAggregator(store domain.AgentStatsStore, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.With(slog.String("component", "leaderboard")),
	}
}

// RecordResolution applies a scored prediction to the agent's stats. When ctx
// carries a transaction the update joins it.
func (a *Aggregator) RecordResolution(ctx context.Context, agentID string, brier float64) (domain.AgentStats, error) {
	st, err := a.store.Apply(ctx, agentID, func(st *domain.AgentStats) {
		ApplyResolution(st, brier)
	})
	if err != nil {
		return domain.AgentStats{}, fmt.Errorf("leaderboard: record resolution %s: %w", agentID, err)
	}
	a.logger.DebugContext(ctx, "resolution recorded",
		slog.String("agent_id", agentID),
		slog.Float64("brier", brier),
		slog.Int64("resolved", st.Resolved),
		slog.Int64("streak", st.CurrentStreak),
	)
	return st, nil
}

// RecordCanceled applies a prediction on a canceled market.
func (a *Aggregator) RecordCanceled(ctx context.Context, agentID string) (domain.AgentStats, error) {
	st, err := a.store.Apply(ctx, agentID, ApplyCanceled)
	if err != nil {
		return domain.AgentStats{}, fmt.Errorf("leaderboard: record canceled %s: %w", agentID, err)
	}
	return st, nil
}

// GetLeaderboard returns ranked agents with at least one resolved prediction.
// Ranks start at offset+1.
func (a *Aggregator) GetLeaderboard(ctx context.Context, limit, offset int) ([]domain.LeaderboardEntry, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := a.store.Leaderboard(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: list: %w", err)
	}
	out := make([]domain.LeaderboardEntry, len(rows))
	for i, st := range rows {
		out[i] = domain.LeaderboardEntry{Rank: offset + i + 1, AgentStats: st}
	}
	return out, nil
}

// GetAgent returns one agent's stats.
func (a *Aggregator) GetAgent(ctx context.Context, agentID string) (domain.AgentStats, error) {
	st, err := a.store.Get(ctx, agentID)
	if err != nil {
		return domain.AgentStats{}, fmt.Errorf("leaderboard: get agent %s: %w", agentID, err)
	}
	return st, nil
}
