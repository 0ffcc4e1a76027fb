package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
)

var testNow = time.Date(2026, 10, 21, 6, 0, 0, 0, time.UTC)

type fixture struct {
	markets  *fakeMarkets
	preds    *fakePredictions
	stats    *fakeStats
	provider *fakeProvider
	scorer   *Scorer
	resolver *Resolver
}

func newFixture(t *testing.T, preds ...domain.Prediction) *fixture {
	t.Helper()
	f := &fixture{
		markets:  newFakeMarkets(),
		preds:    newFakePredictions(preds...),
		stats:    newFakeStats(),
		provider: newFakeProvider(),
	}
	f.scorer = NewScorer(f.preds, f.stats, passthroughTx{}, discardLogger())
	f.scorer.now = func() time.Time { return testNow }

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	f.resolver = NewResolver(sweepMarkets{f.markets, f.preds}, f.provider, f.scorer, passthroughTx{},
		ResolverConfig{SafetyMargin: 3 * time.Hour, BatchSize: 50, Location: loc}, discardLogger())
	f.resolver.now = func() time.Time { return testNow }
	return f
}

// heatAtCeltics is a game that started 20:30 New York time on 2026-10-20 and
// ended 3.5h before testNow.
func heatAtCeltics(id string) domain.Market {
	return domain.Market{
		ID:        id,
		Title:     "Heat vs Celtics",
		StartTime: time.Date(2026, 10, 21, 0, 30, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 10, 21, 2, 30, 0, 0, time.UTC),
	}
}

func celticsWin() *domain.GameResult {
	return &domain.GameResult{
		GameID: "101", Date: "2026-10-20",
		HomeTeam: "Boston Celtics", AwayTeam: "Miami Heat",
		HomeTeamID: "2", AwayTeamID: "16",
		HomeScore: 112, AwayScore: 104,
		Status: "Final", IsFinal: true,
	}
}

func celticsOutcomes(marketID string) []domain.Outcome {
	return []domain.Outcome{
		{ID: "o-bos", MarketID: marketID, Name: "Celtics", Value: "Celtics"},
		{ID: "o-mia", MarketID: marketID, Name: "Heat", Value: "Heat"},
	}
}

func TestBrier(t *testing.T) {
	tests := []struct {
		p       float64
		correct bool
		want    float64
	}{
		{0.7, true, 0.09},
		{0.7, false, 0.49},
		{0.5, true, 0.25},
		{0.5, false, 0.25},
		{1, true, 0},
		{0, true, 1},
	}
	for _, tt := range tests {
		got, err := Brier(tt.p, tt.correct)
		if err != nil {
			t.Fatalf("Brier(%v, %v): %v", tt.p, tt.correct, err)
		}
		if got != tt.want {
			t.Errorf("Brier(%v, %v) = %v, want %v", tt.p, tt.correct, got, tt.want)
		}
	}

	for _, p := range []float64{-0.01, 1.01} {
		if _, err := Brier(p, true); !errors.Is(err, domain.ErrInvalidProbability) {
			t.Errorf("Brier(%v) err = %v", p, err)
		}
	}
}

func TestResolvePassScoresOnce(t *testing.T) {
	f := newFixture(t,
		domain.Prediction{ID: "p1", AgentID: "alice", MarketID: "m1", OutcomeID: "o-bos", Probability: 0.7},
		domain.Prediction{ID: "p2", AgentID: "bob", MarketID: "m1", OutcomeID: "o-mia", Probability: 0.7},
	)
	f.markets.add(heatAtCeltics("m1"), celticsOutcomes("m1")...)
	f.provider.byDate["2026-10-20"] = celticsWin()

	rep, err := f.resolver.ResolvePass(context.Background())
	if err != nil {
		t.Fatalf("ResolvePass: %v", err)
	}
	if rep.Checked != 1 || rep.Resolved != 1 || rep.Scored != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if got := f.provider.requests; len(got) != 1 || got[0] != "2026-10-20:Heat:Celtics" {
		t.Fatalf("provider requests = %v", got)
	}
	if f.markets.status("m1") != domain.MarketStatusResolved {
		t.Fatalf("status = %s", f.markets.status("m1"))
	}
	if b := f.preds.get("p1").BrierScore; b == nil || *b != 0.09 {
		t.Fatalf("p1 brier = %v", b)
	}
	if b := f.preds.get("p2").BrierScore; b == nil || *b != 0.49 {
		t.Fatalf("p2 brier = %v", b)
	}

	// A second pass and a direct re-score change nothing.
	rep, err = f.resolver.ResolvePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Checked != 0 || rep.Scored != 0 || rep.Recovered != 0 {
		t.Fatalf("second pass report %+v", rep)
	}
	sr, err := f.scorer.ScoreMarket(context.Background(), "m1", "o-bos")
	if err != nil || sr.Scored != 0 {
		t.Fatalf("re-score = %+v, %v", sr, err)
	}

	alice := f.stats.get("alice")
	if alice.Total != 1 || alice.Resolved != 1 || *alice.MeanBrier != 0.09 || alice.CurrentStreak != 1 {
		t.Fatalf("alice stats %+v", alice)
	}
	bob := f.stats.get("bob")
	if bob.Resolved != 1 || *bob.MeanBrier != 0.49 || bob.CurrentStreak != 0 {
		t.Fatalf("bob stats %+v", bob)
	}
}

func TestResolvePassRespectsSafetyMargin(t *testing.T) {
	f := newFixture(t)
	m := heatAtCeltics("m1")
	m.EndTime = testNow.Add(-2 * time.Hour)
	f.markets.add(m, celticsOutcomes("m1")...)
	f.provider.byDate["2026-10-20"] = celticsWin()

	rep, err := f.resolver.ResolvePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Checked != 0 || len(f.provider.requests) != 0 {
		t.Fatalf("market inside the margin was checked: %+v", rep)
	}
}

func TestResolvePassCanceledGame(t *testing.T) {
	f := newFixture(t,
		domain.Prediction{ID: "p1", AgentID: "alice", MarketID: "m1", OutcomeID: "o-bos", Probability: 0.6},
	)
	f.markets.add(heatAtCeltics("m1"), celticsOutcomes("m1")...)
	g := celticsWin()
	g.Status, g.IsFinal, g.IsCanceled, g.HomeScore, g.AwayScore = "Canceled", false, true, 0, 0
	f.provider.byDate["2026-10-20"] = g

	// Give alice a streak to break.
	if _, err := f.stats.RecordResolution(context.Background(), "alice", 0.04); err != nil {
		t.Fatal(err)
	}

	rep, err := f.resolver.ResolvePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Canceled != 1 || rep.Voided != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if f.markets.status("m1") != domain.MarketStatusCanceled {
		t.Fatalf("status = %s", f.markets.status("m1"))
	}
	p := f.preds.get("p1")
	if p.BrierScore != nil || p.VoidedAt == nil {
		t.Fatalf("prediction %+v", p)
	}

	alice := f.stats.get("alice")
	if alice.Total != 2 || alice.Resolved != 1 || *alice.MeanBrier != 0.04 || alice.CurrentStreak != 0 || alice.BestStreak != 1 {
		t.Fatalf("alice stats %+v", alice)
	}

	if rep, _ := f.resolver.ResolvePass(context.Background()); rep.Voided != 0 || rep.Recovered != 0 {
		t.Fatalf("second pass voided again: %+v", rep)
	}
	if got := f.stats.get("alice").Total; got != 2 {
		t.Fatalf("total = %d after second pass", got)
	}
}

func TestResolvePassLeavesUnsettledGamesOpen(t *testing.T) {
	tests := []struct {
		name string
		game func() *domain.GameResult
	}{
		{"in progress", func() *domain.GameResult {
			g := celticsWin()
			g.Status, g.IsFinal = "4th Qtr", false
			return g
		}},
		{"final 0-0", func() *domain.GameResult {
			g := celticsWin()
			g.HomeScore, g.AwayScore = 0, 0
			return g
		}},
		{"tie", func() *domain.GameResult {
			g := celticsWin()
			g.AwayScore = g.HomeScore
			return g
		}},
		{"postponed", func() *domain.GameResult {
			g := celticsWin()
			g.Status, g.IsFinal, g.IsCanceled, g.HomeScore, g.AwayScore = "Postponed", false, false, 0, 0
			return g
		}},
		{"no game", func() *domain.GameResult { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t,
				domain.Prediction{ID: "p1", AgentID: "alice", MarketID: "m1", OutcomeID: "o-bos", Probability: 0.6},
			)
			f.markets.add(heatAtCeltics("m1"), celticsOutcomes("m1")...)
			if g := tt.game(); g != nil {
				f.provider.byDate["2026-10-20"] = g
			}

			rep, err := f.resolver.ResolvePass(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if rep.Pending != 1 || rep.Resolved != 0 || rep.Failed != 0 {
				t.Fatalf("unexpected report %+v", rep)
			}
			if f.markets.status("m1") != domain.MarketStatusOpen {
				t.Fatalf("status = %s", f.markets.status("m1"))
			}
			if !f.preds.get("p1").Pending() {
				t.Fatal("prediction settled")
			}
			if st := f.stats.get("alice"); st.Total != 0 {
				t.Fatalf("stats written for an unsettled game: %+v", st)
			}
		})
	}
}

func TestResolvePassUsesExternalGameID(t *testing.T) {
	f := newFixture(t)
	m := heatAtCeltics("m1")
	m.Title = "Who wins tonight?"
	id := "101"
	m.ExternalGameID = &id
	f.markets.add(m,
		domain.Outcome{ID: "o-home", MarketID: "m1", Name: "Home", Value: "home"},
		domain.Outcome{ID: "o-away", MarketID: "m1", Name: "Away", Value: "away"},
	)
	f.provider.byID["101"] = celticsWin()

	rep, err := f.resolver.ResolvePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Resolved != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	mk, _ := f.markets.GetByID(context.Background(), "m1")
	if mk.ResolvedOutcomeID == nil || *mk.ResolvedOutcomeID != "o-home" {
		t.Fatalf("resolved outcome = %v", mk.ResolvedOutcomeID)
	}
}

func TestResolvePassSurvivesPanickingMarket(t *testing.T) {
	f := newFixture(t,
		domain.Prediction{ID: "p2", AgentID: "bob", MarketID: "m2", OutcomeID: "o-bos", Probability: 0.7},
	)
	bad := heatAtCeltics("m1")
	bad.EndTime = bad.EndTime.Add(-time.Hour)
	id := "999"
	bad.ExternalGameID = &id
	f.markets.add(bad, celticsOutcomes("m1")...)
	f.markets.add(heatAtCeltics("m2"), celticsOutcomes("m2")...)
	f.provider.panicIDs["999"] = true
	f.provider.byDate["2026-10-20"] = celticsWin()

	rep, err := f.resolver.ResolvePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Checked != 2 || rep.Failed != 1 || rep.Resolved != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if f.markets.status("m1") != domain.MarketStatusOpen {
		t.Fatalf("m1 status = %s", f.markets.status("m1"))
	}
	if f.markets.status("m2") != domain.MarketStatusResolved {
		t.Fatalf("m2 status = %s", f.markets.status("m2"))
	}
}

func TestRecoverySweepFinishesPartialScoring(t *testing.T) {
	f := newFixture(t,
		domain.Prediction{ID: "p1", AgentID: "alice", MarketID: "m1", OutcomeID: "o-bos", Probability: 0.9},
		domain.Prediction{ID: "p2", AgentID: "bob", MarketID: "m1", OutcomeID: "o-bos", Probability: 0.8},
	)
	f.markets.add(heatAtCeltics("m1"), celticsOutcomes("m1")...)
	f.provider.byDate["2026-10-20"] = celticsWin()
	f.preds.failNext["p1"] = errors.New("connection reset")

	rep, err := f.resolver.ResolvePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Resolved != 1 || rep.Scored != 1 {
		t.Fatalf("first pass %+v", rep)
	}
	if !f.preds.get("p1").Pending() {
		t.Fatal("p1 should still be pending")
	}

	rep, err = f.resolver.ResolvePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Recovered != 1 || rep.Scored != 1 {
		t.Fatalf("recovery pass %+v", rep)
	}
	if b := f.preds.get("p1").BrierScore; b == nil || *b != 0.01 {
		t.Fatalf("p1 brier = %v", b)
	}
	if f.stats.get("bob").Resolved != 1 {
		t.Fatal("bob scored twice or not at all")
	}
}

func TestScoreMarketVoidsInvalidProbability(t *testing.T) {
	f := newFixture(t,
		domain.Prediction{ID: "p1", AgentID: "alice", MarketID: "m1", OutcomeID: "o-bos", Probability: 1.5},
		domain.Prediction{ID: "p2", AgentID: "bob", MarketID: "m1", OutcomeID: "o-bos", Probability: 0.5},
	)
	rep, err := f.scorer.ScoreMarket(context.Background(), "m1", "o-bos")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Invalid != 1 || rep.Scored != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if _, ok := f.stats.rows["alice"]; ok {
		t.Fatal("invalid prediction reached the aggregator")
	}
	if f.preds.get("p1").Pending() {
		t.Fatal("invalid prediction still pending")
	}
}

func TestRecoverySweepRetiresInvalidPredictions(t *testing.T) {
	f := newFixture(t,
		domain.Prediction{ID: "p1", AgentID: "alice", MarketID: "m1", OutcomeID: "o-bos", Probability: 1.5},
	)
	m := heatAtCeltics("m1")
	won := "o-bos"
	m.Status = domain.MarketStatusResolved
	m.ResolvedOutcomeID = &won
	f.markets.add(m, celticsOutcomes("m1")...)

	rep, err := f.resolver.ResolvePass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Recovered != 1 || rep.Scored != 0 {
		t.Fatalf("first pass %+v", rep)
	}

	for i := 0; i < 2; i++ {
		rep, err = f.resolver.ResolvePass(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if rep.Recovered != 0 {
			t.Fatalf("pass %d recovered the same market again: %+v", i+2, rep)
		}
	}
	if st := f.stats.get("alice"); st.Total != 0 {
		t.Fatalf("alice stats %+v", st)
	}
}

func TestParseMatchup(t *testing.T) {
	tests := []struct {
		title string
		a, b  string
		ok    bool
	}{
		{"Lakers vs Celtics", "Lakers", "Celtics", true},
		{"Lakers vs. Celtics", "Lakers", "Celtics", true},
		{"Los Angeles Lakers @ Boston Celtics", "Los Angeles Lakers", "Boston Celtics", true},
		{"Heat at Knicks?", "Heat", "Knicks", true},
		{"Warriors VS Suns - Oct 20", "Warriors", "Suns", true},
		{"Nuggets vs Jazz (Game 3)", "Nuggets", "Jazz", true},
		{"Who wins the title?", "", "", false},
		{"vs Celtics", "", "", false},
	}
	for _, tt := range tests {
		a, b, ok := ParseMatchup(tt.title)
		if ok != tt.ok || a != tt.a || b != tt.b {
			t.Errorf("ParseMatchup(%q) = (%q, %q, %v)", tt.title, a, b, ok)
		}
	}
}

func TestMatchOutcome(t *testing.T) {
	g := &domain.GameResult{
		HomeTeam: "Los Angeles Lakers", AwayTeam: "LA Clippers",
		HomeTeamID: "14", AwayTeamID: "13",
		HomeScore: 99, AwayScore: 101, Status: "Final", IsFinal: true,
	}
	tests := []struct {
		name     string
		outcomes []domain.Outcome
		want     string
		ok       bool
	}{
		{"side value", []domain.Outcome{{ID: "h", Value: "home"}, {ID: "a", Value: "AWAY"}}, "a", true},
		{"team id", []domain.Outcome{{ID: "lal", Value: "14"}, {ID: "lac", Value: "13"}}, "lac", true},
		{"short name", []domain.Outcome{{ID: "lal", Value: "Lakers"}, {ID: "lac", Value: "Clippers"}}, "lac", true},
		{"name fallback", []domain.Outcome{{ID: "lal", Name: "Lakers"}, {ID: "lac", Name: "Clippers"}}, "lac", true},
		{"no match", []domain.Outcome{{ID: "x", Value: "Knicks"}}, "", false},
	}
	for _, tt := range tests {
		got, ok := matchOutcome(tt.outcomes, g, g.Winner())
		if ok != tt.ok || got.ID != tt.want {
			t.Errorf("%s: got (%q, %v), want (%q, %v)", tt.name, got.ID, ok, tt.want, tt.ok)
		}
	}
}
