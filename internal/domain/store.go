package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Transactor runs fn inside a single database transaction. Stores called with
// the context passed to fn take part in that transaction. Nested calls reuse
// the outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// MarketStore persists markets and their outcomes.
type MarketStore interface {
	GetByID(ctx context.Context, id string) (Market, error)
	// ListResolvable returns open or in-progress markets whose end time is
	// before cutoff, oldest end time first.
	ListResolvable(ctx context.Context, cutoff time.Time, limit int) ([]Market, error)
	// ListSettledWithPending returns resolved or canceled markets that still
	// hold predictions that were neither scored nor voided.
	ListSettledWithPending(ctx context.Context, limit int) ([]Market, error)
	ListOutcomes(ctx context.Context, marketID string) ([]Outcome, error)
	// Resolve moves an open market to resolved. It reports false when the
	// market had already left the open states.
	Resolve(ctx context.Context, id, outcomeID string, at time.Time) (bool, error)
	// Cancel moves an open market to canceled, reporting false when the market
	// had already left the open states.
	Cancel(ctx context.Context, id string, at time.Time) (bool, error)
	ListSettled(ctx context.Context, opts ListOpts) ([]SettledMarket, error)
}

// PredictionStore persists agent predictions.
type PredictionStore interface {
	// ListPending returns predictions on the market that carry neither a
	// score nor a void mark.
	ListPending(ctx context.Context, marketID string) ([]Prediction, error)
	// SetScore writes the Brier score only if none is stored yet and reports
	// whether the row changed.
	SetScore(ctx context.Context, id string, score float64, at time.Time) (bool, error)
	// MarkVoided flags an unscored prediction on a canceled market, reporting
	// whether the row changed.
	MarkVoided(ctx context.Context, id string, at time.Time) (bool, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Prediction, error)
	DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error)
}

// AgentStatsStore persists per-agent aggregates.
type AgentStatsStore interface {
	Get(ctx context.Context, agentID string) (AgentStats, error)
	// Apply loads the agent's row (creating a zeroed one if missing) under a
	// row lock, passes it to fn and persists the result.
	Apply(ctx context.Context, agentID string, fn func(*AgentStats)) (AgentStats, error)
	Leaderboard(ctx context.Context, limit, offset int) ([]AgentStats, error)
}

// OddsSnapshotStore persists odds snapshots.
type OddsSnapshotStore interface {
	// Insert stores the snapshot, reporting false when a snapshot for the same
	// event and rounded timestamp already exists.
	Insert(ctx context.Context, snap OddsSnapshot) (bool, error)
	ListByEvent(ctx context.Context, eventID string, since time.Time) ([]OddsSnapshot, error)
	ListBefore(ctx context.Context, before time.Time) ([]OddsSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
