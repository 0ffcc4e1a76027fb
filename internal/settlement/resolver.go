// Package settlement resolves concluded markets against real game results,
// scores the forecasts on them and drives the periodic settlement loop.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/nba"
)

// OutcomeProvider looks up real game results.
type OutcomeProvider interface {
	GetGame(ctx context.Context, id string) (*domain.GameResult, error)
	GetFinalResult(ctx context.Context, date, teamA, teamB string) (*domain.GameResult, error)
}

// MarketScorer settles the predictions of a market. *Scorer implements it.
type MarketScorer interface {
	ScoreMarket(ctx context.Context, marketID, winningOutcomeID string) (ScoreReport, error)
	VoidMarket(ctx context.Context, marketID string) (ScoreReport, error)
}

// ResolverConfig tunes a Resolver.
type ResolverConfig struct {
	// SafetyMargin is how long after end_time a market waits before it is
	// checked against the provider.
	SafetyMargin time.Duration
	// BatchSize caps the markets examined per pass.
	BatchSize int
	// Location is the time zone used to derive the game date from start_time.
	Location *time.Location
}

// Report summarizes one resolution pass.
type Report struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Checked   int           `json:"checked"`
	Resolved  int           `json:"resolved"`
	Canceled  int           `json:"canceled"`
	Pending   int           `json:"pending"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Recovered int           `json:"recovered"`
	Scored    int           `json:"scored"`
	Voided    int           `json:"voided"`
	Error     string        `json:"error,omitempty"`
}

func (r *Report) addScore(s ScoreReport) {
	r.Scored += s.Scored
	r.Voided += s.Voided
}

type marketResult int

const (
	resultPending marketResult = iota
	resultResolved
	resultCanceled
	resultSkipped
)

// errUnparsableTitle marks a market whose teams cannot be derived.
var errUnparsableTitle = errors.New("title has no recognizable matchup")

// Resolver finds markets whose games have ended, settles them and hands the
// predictions to the scorer.
type Resolver struct {
	markets  domain.MarketStore
	provider OutcomeProvider
	scorer   MarketScorer
	tx       domain.Transactor
	cfg      ResolverConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewResolver creates a Resolver. Zero config fields take defaults: a 3h
// margin, batches of 50 and America/New_York game dates.
func NewResolver(markets domain.MarketStore, provider OutcomeProvider, scorer MarketScorer, tx domain.Transactor, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = 3 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	return &Resolver{
		markets:  markets,
		provider: provider,
		scorer:   scorer,
		tx:       tx,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "resolver")),
	}
}

// ResolvePass runs one resolution pass. Markets left half-settled by an
// earlier crash are finished first; then every open market past its end time
// plus the safety margin is checked, oldest first. Failures are isolated per
// market and counted; only a failure to list markets is returned.
func (r *Resolver) ResolvePass(ctx context.Context) (rep Report, err error) {
	rep = Report{RunID: uuid.NewString(), StartedAt: r.now()}
	defer func() { rep.Duration = r.now().Sub(rep.StartedAt) }()

	r.sweepPending(ctx, &rep)

	cutoff := rep.StartedAt.Add(-r.cfg.SafetyMargin)
	markets, err := r.markets.ListResolvable(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		rep.Error = err.Error()
		return rep, fmt.Errorf("settlement: list resolvable: %w", err)
	}

	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			rep.Error = err.Error()
			return rep, err
		}
		rep.Checked++

		res, err := r.resolveMarket(ctx, m, &rep)
		if err != nil {
			rep.Failed++
			r.logger.ErrorContext(ctx, "market settlement failed",
				slog.String("market_id", m.ID),
				slog.String("title", m.Title),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch res {
		case resultResolved:
			rep.Resolved++
		case resultCanceled:
			rep.Canceled++
		case resultSkipped:
			rep.Skipped++
		default:
			rep.Pending++
		}
	}

	r.logger.InfoContext(ctx, "resolution pass complete",
		slog.String("run_id", rep.RunID),
		slog.Int("checked", rep.Checked),
		slog.Int("resolved", rep.Resolved),
		slog.Int("canceled", rep.Canceled),
		slog.Int("pending", rep.Pending),
		slog.Int("failed", rep.Failed),
		slog.Int("recovered", rep.Recovered),
	)
	return rep, nil
}

// sweepPending re-runs scoring for markets that were settled but still hold
// unscored, unvoided predictions.
func (r *Resolver) sweepPending(ctx context.Context, rep *Report) {
	markets, err := r.markets.ListSettledWithPending(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.WarnContext(ctx, "recovery sweep skipped", slog.String("error", err.Error()))
		return
	}
	for _, m := range markets {
		var (
			sr  ScoreReport
			err error
		)
		switch {
		case m.Status == domain.MarketStatusCanceled:
			sr, err = r.scorer.VoidMarket(ctx, m.ID)
		case m.Status == domain.MarketStatusResolved && m.ResolvedOutcomeID != nil:
			sr, err = r.scorer.ScoreMarket(ctx, m.ID, *m.ResolvedOutcomeID)
		default:
			continue
		}
		rep.addScore(sr)
		if err != nil {
			r.logger.ErrorContext(ctx, "recovery failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sr.Scored+sr.Voided+sr.Invalid > 0 {
			rep.Recovered++
		}
	}
}

// resolveMarket settles one market. A panic is logged and returned as an
// error so the rest of the pass carries on.
func (r *Resolver) resolveMarket(ctx context.Context, m domain.Market, rep *Report) (res marketResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "market settlement panicked",
				slog.String("market_id", m.ID),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			res, err = resultPending, fmt.Errorf("settlement: market %s panicked: %v", m.ID, p)
		}
	}()
	return r.settleMarket(ctx, m, rep)
}

func (r *Resolver) settleMarket(ctx context.Context, m domain.Market, rep *Report) (marketResult, error) {
	game, err := r.fetchResult(ctx, m)
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, errUnparsableTitle):
		r.logger.DebugContext(ctx, "no result yet",
			slog.String("market_id", m.ID),
			slog.String("reason", err.Error()),
		)
		return resultPending, nil
	case err != nil:
		return resultPending, err
	case game == nil:
		return resultPending, nil
	}

	if game.IsCanceled {
		return r.cancel(ctx, m, game, rep)
	}

	if !isAuthoritative(game) {
		r.logger.DebugContext(ctx, "game not final",
			slog.String("market_id", m.ID),
			slog.String("status", game.Status),
		)
		return resultPending, nil
	}

	winner := game.Winner()
	if winner == "" {
		r.logger.WarnContext(ctx, "tied final score, market left open",
			slog.String("market_id", m.ID),
			slog.Int("home_score", game.HomeScore),
			slog.Int("away_score", game.AwayScore),
		)
		return resultPending, nil
	}

	outcomes, err := r.markets.ListOutcomes(ctx, m.ID)
	if err != nil {
		return resultPending, err
	}
	outcome, ok := matchOutcome(outcomes, game, winner)
	if !ok {
		r.logger.WarnContext(ctx, "no outcome matches the winner",
			slog.String("market_id", m.ID),
			slog.String("winner", winner),
			slog.String("home_team", game.HomeTeam),
			slog.String("away_team", game.AwayTeam),
		)
		return resultPending, nil
	}

	var changed bool
	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		changed, err = r.markets.Resolve(ctx, m.ID, outcome.ID, r.now())
		return err
	})
	if err != nil {
		return resultPending, fmt.Errorf("resolve: %w", err)
	}
	if !changed {
		return resultSkipped, nil
	}

	r.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", m.ID),
		slog.String("outcome_id", outcome.ID),
		slog.String("outcome", outcome.Name),
		slog.String("score", fmt.Sprintf("%d-%d", game.HomeScore, game.AwayScore)),
	)

	sr, err := r.scorer.ScoreMarket(ctx, m.ID, outcome.ID)
	rep.addScore(sr)
	if err != nil {
		// The market stays resolved; the recovery sweep retries the rest.
		r.logger.ErrorContext(ctx, "scoring incomplete",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	return resultResolved, nil
}

func (r *Resolver) cancel(ctx context.Context, m domain.Market, game *domain.GameResult, rep *Report) (marketResult, error) {
	var changed bool
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		changed, err = r.markets.Cancel(ctx, m.ID, r.now())
		return err
	})
	if err != nil {
		return resultPending, fmt.Errorf("cancel: %w", err)
	}
	if !changed {
		return resultSkipped, nil
	}

	r.logger.InfoContext(ctx, "market canceled",
		slog.String("market_id", m.ID),
		slog.String("status", game.Status),
	)

	sr, err := r.scorer.VoidMarket(ctx, m.ID)
	rep.addScore(sr)
	if err != nil {
		r.logger.ErrorContext(ctx, "voiding incomplete",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	return resultCanceled, nil
}

// fetchResult asks the provider for the market's game, by id when the market
// carries one and by teams and date otherwise.
func (r *Resolver) fetchResult(ctx context.Context, m domain.Market) (*domain.GameResult, error) {
	if m.ExternalGameID != nil && *m.ExternalGameID != "" {
		return r.provider.GetGame(ctx, *m.ExternalGameID)
	}

	teamA, teamB, ok := ParseMatchup(m.Title)
	if !ok {
		return nil, errUnparsableTitle
	}
	start := m.StartTime
	if start.IsZero() {
		start = m.EndTime
	}
	date := start.In(r.cfg.Location).Format("2006-01-02")
	return r.provider.GetFinalResult(ctx, date, teamA, teamB)
}

// isAuthoritative applies the final-status policy: the provider must say final
// and a 0-0 score is never trusted.
func isAuthoritative(g *domain.GameResult) bool {
	if !g.IsFinal || !strings.Contains(strings.ToLower(g.Status), "final") {
		return false
	}
	return g.HomeScore != 0 || g.AwayScore != 0
}

var matchupRe = regexp.MustCompile(`(?i)^\s*(.+?)\s+(?:vs\.?|@|at)\s+(.+?)\s*$`)

// ParseMatchup extracts the two team names from a market title such as
// "Lakers vs Celtics", "Lakers vs. Celtics", "Lakers @ Celtics" or
// "Lakers at Celtics".
func ParseMatchup(title string) (string, string, bool) {
	t := strings.TrimRight(strings.TrimSpace(title), "?!.")
	if i := strings.Index(t, " - "); i > 0 {
		t = t[:i]
	}
	if i := strings.Index(t, "("); i > 0 {
		t = t[:i]
	}
	m := matchupRe.FindStringSubmatch(t)
	if m == nil {
		return "", "", false
	}
	a, b := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	if a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// matchOutcome picks the outcome naming the winner. "home"/"away" values win
// over team ids, which win over name fragments. A name fragment that also
// matches the losing team is ambiguous and ignored.
func matchOutcome(outcomes []domain.Outcome, g *domain.GameResult, winner string) (domain.Outcome, bool) {
	winName, winID, loseName := g.HomeTeam, g.HomeTeamID, g.AwayTeam
	if winner == "away" {
		winName, winID, loseName = g.AwayTeam, g.AwayTeamID, g.HomeTeam
	}

	value := func(o domain.Outcome) string {
		v := strings.TrimSpace(o.Value)
		if v == "" {
			v = strings.TrimSpace(o.Name)
		}
		return v
	}

	for _, o := range outcomes {
		if strings.EqualFold(value(o), winner) {
			return o, true
		}
	}
	if winID != "" {
		for _, o := range outcomes {
			if value(o) == winID {
				return o, true
			}
		}
	}
	for _, o := range outcomes {
		v := value(o)
		if strings.EqualFold(v, "home") || strings.EqualFold(v, "away") {
			continue
		}
		if nba.Match(v, winName) && !nba.Match(v, loseName) {
			return o, true
		}
	}
	return domain.Outcome{}, false
}
