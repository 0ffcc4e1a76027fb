package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen       MarketStatus = "open"
	MarketStatusInProgress MarketStatus = "in_progress"
	MarketStatusResolved   MarketStatus = "resolved"
	MarketStatusCanceled   MarketStatus = "canceled"
)

// Settled reports whether the status is terminal.
func (s MarketStatus) Settled() bool {
	return s == MarketStatusResolved || s == MarketStatusCanceled
}

// Market is a single predictable event, normally one NBA game.
type Market struct {
	ID                string
	Title             string
	Category          string
	Status            MarketStatus
	StartTime         time.Time
	EndTime           time.Time
	ExternalGameID    *string // outcome provider game id, when known
	ResolvedOutcomeID *string
	ResolvedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Outcome is one selectable result of a market. Value is matched against the
// provider-reported winner: a team id, a team name fragment, or "home"/"away".
type Outcome struct {
	ID       string
	MarketID string
	Name     string
	Value    string
}

// SettledMarket is the read model used by the settled-markets listing.
type SettledMarket struct {
	MarketID          string
	Title             string
	Status            MarketStatus
	ResolvedOutcomeID *string
	PredictionCount   int64
	AvgBrier          *float64
	ResolvedAt        *time.Time
}
