package domain

import "time"

// OddsSnapshot is one timestamped odds reading for a game. Snapshots are
// append-only and pruned by age.
type OddsSnapshot struct {
	ID          int64
	EventID     string
	HomeTeam    string
	AwayTeam    string
	HomeProb    float64
	AwayProb    float64
	Volume      float64
	MarketRef   string
	CollectedAt time.Time
}

// Quote is a current probability reading from the odds provider.
type Quote struct {
	HomeProb  float64
	AwayProb  float64
	MarketRef string   // provider market id
	TokenIDs  []string // streamable asset ids for the market, if any
	Volume    float64
	Slug      string
	Date      string // YYYY-MM-DD the quote was found under
}

// GameResult is the outcome provider's view of one game.
type GameResult struct {
	GameID     string
	Date       string
	HomeTeam   string
	AwayTeam   string
	HomeTeamID string
	AwayTeamID string
	HomeScore  int
	AwayScore  int
	Status     string
	IsFinal    bool
	IsCanceled bool
}

// Winner returns "home" or "away" for a final game, or "" for a tie or an
// unfinished game.
func (g GameResult) Winner() string {
	if !g.IsFinal {
		return ""
	}
	switch {
	case g.HomeScore > g.AwayScore:
		return "home"
	case g.AwayScore > g.HomeScore:
		return "away"
	default:
		return ""
	}
}
