package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// LeaderboardService is the read side of the leaderboard aggregator.
type LeaderboardService interface {
	GetLeaderboard(ctx context.Context, limit, offset int) ([]domain.LeaderboardEntry, error)
	GetAgent(ctx context.Context, agentID string) (domain.AgentStats, error)
}

// LeaderboardHandler serves agent ranking endpoints.
type LeaderboardHandler struct {
	board  LeaderboardService
	logger *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(board LeaderboardService, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		board:  board,
		logger: logHandler(logger, "leaderboard"),
	}
}

type agentStatsJSON struct {
	Rank          int       `json:"rank,omitempty"`
	AgentID       string    `json:"agent_id"`
	Total         int64     `json:"total_predictions"`
	Resolved      int64     `json:"resolved_predictions"`
	MeanBrier     *float64  `json:"mean_brier"`
	CurrentStreak int64     `json:"current_streak"`
	BestStreak    int64     `json:"best_streak"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toAgentStatsJSON(rank int, st domain.AgentStats) agentStatsJSON {
	return agentStatsJSON{
		Rank:          rank,
		AgentID:       st.AgentID,
		Total:         st.Total,
		Resolved:      st.Resolved,
		MeanBrier:     st.MeanBrier,
		CurrentStreak: st.CurrentStreak,
		BestStreak:    st.BestStreak,
		UpdatedAt:     st.UpdatedAt,
	}
}

type leaderboardResponse struct {
	Agents []agentStatsJSON `json:"agents"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// GetLeaderboard returns ranked agents, lowest mean Brier score first.
// GET /api/leaderboard?limit=50&offset=0
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.board.GetLeaderboard(r.Context(), opts.Limit, opts.Offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: leaderboard failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	agents := make([]agentStatsJSON, 0, len(entries))
	for _, e := range entries {
		agents = append(agents, toAgentStatsJSON(e.Rank, e.AgentStats))
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Agents: agents,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetAgentStats returns one agent's aggregate.
// GET /api/agents/{id}/stats
func (h *LeaderboardHandler) GetAgentStats(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	st, err := h.board.GetAgent(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get agent stats failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load agent stats")
		return
	}
	writeJSON(w, http.StatusOK, toAgentStatsJSON(0, st))
}
