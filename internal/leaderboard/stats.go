package leaderboard

import (
	"github.com/shopspring/decimal"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// CorrectThreshold is the exclusive Brier bound below which a forecast counts
// toward the agent's streak.
var CorrectThreshold = decimal.RequireFromString("0.25")

// ApplyResolution folds one Brier score into st: both counters grow, the mean
// moves incrementally and the streak advances when brier < 0.25.
func ApplyResolution(st *domain.AgentStats, brier float64) {
	b := decimal.NewFromFloat(brier)

	st.Total++
	st.Resolved++

	mean := decimal.Zero
	if st.MeanBrier != nil {
		mean = decimal.NewFromFloat(*st.MeanBrier)
	}
	mean = mean.Add(b.Sub(mean).Div(decimal.NewFromInt(st.Resolved)))
	m, _ := mean.Round(10).Float64()
	st.MeanBrier = &m

	if b.LessThan(CorrectThreshold) {
		st.CurrentStreak++
	} else {
		st.CurrentStreak = 0
	}
	if st.CurrentStreak > st.BestStreak {
		st.BestStreak = st.CurrentStreak
	}
}

// ApplyCanceled records a prediction on a canceled market. It counts toward
// Total only and breaks a running streak.
func ApplyCanceled(st *domain.AgentStats) {
	st.Total++
	if st.CurrentStreak > 0 {
		st.CurrentStreak = 0
	}
}
