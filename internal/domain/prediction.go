package domain

import "time"

// Prediction is an agent's probability for a chosen outcome of a market. There
// is at most one per (agent, market); BrierScore is written once.
type Prediction struct {
	ID          string
	AgentID     string
	MarketID    string
	OutcomeID   string
	Probability float64
	Rationale   string
	BrierScore  *float64
	ScoredAt    *time.Time
	VoidedAt    *time.Time // set once canceled-market accounting was applied
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Pending reports whether the prediction still awaits scoring or voiding.
func (p Prediction) Pending() bool {
	return p.BrierScore == nil && p.VoidedAt == nil
}

// AgentStats holds running aggregates for one agent.
//
// Resolved never exceeds Total, and MeanBrier is nil until Resolved > 0.
type AgentStats struct {
	AgentID       string
	Total         int64
	Resolved      int64
	MeanBrier     *float64
	CurrentStreak int64
	BestStreak    int64
	UpdatedAt     time.Time
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank int
	AgentStats
}
