package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/metrics"
)

// ErrBusy is returned when a collection is requested while one is running.
var ErrBusy = errors.New("pipeline: collection already running")

// GameLister lists scheduled games for a date. balldontlie.Client implements
// it.
type GameLister interface {
	ListGames(ctx context.Context, date string) ([]domain.GameResult, error)
}

// QuoteProvider returns the current odds for a matchup. polymarket.GammaClient
// implements it.
type QuoteProvider interface {
	GetQuote(ctx context.Context, home, away, date string) (*domain.Quote, error)
}

// CollectReport summarizes one CollectAllActive run.
type CollectReport struct {
	Games      int           `json:"games"`
	Quoted     int           `json:"quoted"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	NoQuote    int           `json:"no_quote"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration_ns"`
}

// OddsCollector snapshots current odds for every upcoming game.
type OddsCollector struct {
	games     GameLister
	quotes    QuoteProvider
	snapshots domain.OddsSnapshotStore
	archiver  domain.Archiver
	metrics   *metrics.Metrics
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger

	running atomic.Bool
	onQuote func(context.Context, domain.GameResult, *domain.Quote)
}

// NewOddsCollector creates an OddsCollector. archiver and m may be nil; loc
// defaults to UTC.
func NewOddsCollector(
	games GameLister,
	quotes QuoteProvider,
	snapshots domain.OddsSnapshotStore,
	archiver domain.Archiver,
	m *metrics.Metrics,
	loc *time.Location,
	logger *slog.Logger,
) *OddsCollector {
	if loc == nil {
		loc = time.UTC
	}
	return &OddsCollector{
		games:     games,
		quotes:    quotes,
		snapshots: snapshots,
		archiver:  archiver,
		metrics:   m,
		loc:       loc,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "odds_collector")),
	}
}

// OnQuote registers fn to be called for every quote fetched. Call it before
// the collector starts.
func (c *OddsCollector) OnQuote(fn func(context.Context, domain.GameResult, *domain.Quote)) {
	c.onQuote = fn
}

// CollectAllActive fetches today's and tomorrow's games, skips finished or
// canceled ones and stores one snapshot per quoted game. Per-game failures
// are counted, not returned.
func (c *OddsCollector) CollectAllActive(ctx context.Context) (CollectReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.InfoContext(ctx, "odds collection already running, skipped")
		return CollectReport{}, ErrBusy
	}
	defer c.running.Store(false)

	start := c.now()
	var rep CollectReport

	games, err := c.activeGames(ctx, start)
	if err != nil {
		c.metrics.RecordCollection("error", 0, 0, 0)
		return rep, err
	}
	rep.Games = len(games)

	for _, g := range games {
		if ctx.Err() != nil {
			break
		}
		quote, err := c.quotes.GetQuote(ctx, g.HomeTeam, g.AwayTeam, g.Date)
		if err != nil {
			if errors.Is(err, domain.ErrNoQuote) || errors.Is(err, domain.ErrUnknownTeam) {
				rep.NoQuote++
				c.logger.DebugContext(ctx, "no odds for game",
					slog.String("game_id", g.GameID),
					slog.String("home", g.HomeTeam),
					slog.String("away", g.AwayTeam),
				)
				continue
			}
			rep.Failed++
			c.logger.WarnContext(ctx, "quote fetch failed",
				slog.String("game_id", g.GameID),
				slog.String("error", err.Error()),
			)
			continue
		}
		rep.Quoted++

		inserted, err := c.snapshots.Insert(ctx, domain.OddsSnapshot{
			EventID:     g.GameID,
			HomeTeam:    g.HomeTeam,
			AwayTeam:    g.AwayTeam,
			HomeProb:    quote.HomeProb,
			AwayProb:    quote.AwayProb,
			Volume:      quote.Volume,
			MarketRef:   quote.MarketRef,
			CollectedAt: start,
		})
		switch {
		case err != nil:
			rep.Failed++
			c.logger.ErrorContext(ctx, "snapshot insert failed",
				slog.String("game_id", g.GameID),
				slog.String("error", err.Error()),
			)
		case inserted:
			rep.Inserted++
		default:
			rep.Duplicates++
		}

		if c.onQuote != nil {
			c.onQuote(ctx, g, quote)
		}
	}

	rep.Duration = c.now().Sub(start)
	c.metrics.RecordCollection("ok", rep.Inserted, rep.Duplicates, rep.Failed)
	c.logger.InfoContext(ctx, "odds collection complete",
		slog.Int("games", rep.Games),
		slog.Int("inserted", rep.Inserted),
		slog.Int("duplicates", rep.Duplicates),
		slog.Int("no_quote", rep.NoQuote),
		slog.Int("failed", rep.Failed),
		slog.Duration("duration", rep.Duration),
	)
	return rep, nil
}

// activeGames lists the games of today and tomorrow in the collector's time
// zone that are neither final nor canceled. It fails only when both dates
// fail.
func (c *OddsCollector) activeGames(ctx context.Context, at time.Time) ([]domain.GameResult, error) {
	today := at.In(c.loc)
	dates := []string{today.Format("2006-01-02"), today.AddDate(0, 0, 1).Format("2006-01-02")}

	seen := make(map[string]bool)
	var (
		out  []domain.GameResult
		errs []error
	)
	for _, d := range dates {
		games, err := c.games.ListGames(ctx, d)
		if err != nil {
			errs = append(errs, err)
			c.logger.WarnContext(ctx, "list games failed",
				slog.String("date", d),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, g := range games {
			if g.IsFinal || g.IsCanceled || seen[g.GameID] {
				continue
			}
			seen[g.GameID] = true
			if g.Date == "" {
				g.Date = d
			}
			out = append(out, g)
		}
	}
	if len(errs) == len(dates) {
		return nil, fmt.Errorf("pipeline: list games: %w", errors.Join(errs...))
	}
	return out, nil
}

// PruneOlderThan deletes snapshots older than retentionHours and returns the
// number removed. With an archiver configured the rows are copied to object
// storage first and nothing is deleted if that fails.
func (c *OddsCollector) PruneOlderThan(ctx context.Context, retentionHours int) (int64, error) {
	if retentionHours <= 0 {
		return 0, fmt.Errorf("pipeline: prune: retention must be positive, got %d", retentionHours)
	}
	cutoff := c.now().Add(-time.Duration(retentionHours) * time.Hour)

	if c.archiver != nil {
		path, n, err := c.archiver.ArchiveOddsSnapshots(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pipeline: archive snapshots before prune: %w", err)
		}
		if n > 0 {
			c.logger.InfoContext(ctx, "snapshots archived", slog.String("path", path), slog.Int64("count", n))
		}
	}

	n, err := c.snapshots.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: prune snapshots: %w", err)
	}
	c.metrics.RecordPrune(n)
	c.logger.InfoContext(ctx, "snapshots pruned",
		slog.Time("cutoff", cutoff),
		slog.Int64("deleted", n),
	)
	return n, nil
}

// History returns an event's snapshots from the last hoursBack hours, oldest
// first. hoursBack <= 0 means 24.
func (c *OddsCollector) History(ctx context.Context, eventID string, hoursBack int) ([]domain.OddsSnapshot, error) {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	since := c.now().Add(-time.Duration(hoursBack) * time.Hour)
	snaps, err := c.snapshots.ListByEvent(ctx, eventID, since)
	if err != nil {
		return nil, fmt.Errorf("pipeline: history %s: %w", eventID, err)
	}
	return snaps, nil
}
