package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/feed"
	"github.com/Crime1000x/moltnba/internal/leaderboard"
	"github.com/Crime1000x/moltnba/internal/pipeline"
	"github.com/Crime1000x/moltnba/internal/server"
	"github.com/Crime1000x/moltnba/internal/server/handler"
	"github.com/Crime1000x/moltnba/internal/server/middleware"
	"github.com/Crime1000x/moltnba/internal/server/ws"
	"github.com/Crime1000x/moltnba/internal/settlement"
)

const shutdownTimeout = 10 * time.Second

// services holds the domain components built on top of the infrastructure.
// Components whose backing store is absent stay nil.
type services struct {
	aggregator *leaderboard.Aggregator
	scheduler  *settlement.Scheduler
	collector  *pipeline.OddsCollector
	retention  *pipeline.Retention
	feed       *feed.PriceFeed
}

func (a *App) buildServices(deps *Dependencies) *services {
	svc := &services{}

	if deps.Postgres != nil {
		svc.aggregator = leaderboard.NewAggregator(deps.AgentStatsStore, a.logger)
		scorer := settlement.NewScorer(deps.PredictionStore, svc.aggregator, deps.Tx, a.logger)
		resolver := settlement.NewResolver(deps.MarketStore, deps.Games, scorer, deps.Tx, settlement.ResolverConfig{
			SafetyMargin: a.cfg.Settlement.SafetyMargin.Duration,
			BatchSize:    a.cfg.Settlement.BatchSize,
			Location:     a.cfg.GameLocation(),
		}, a.logger)

		opts := settlement.SchedulerOptions{
			LockTTL: a.cfg.Settlement.LockTTL.Duration,
			Metrics: deps.Metrics,
			Alerter: deps.Notifier,
		}
		if a.cfg.Settlement.UseLock && deps.LockManager != nil {
			opts.Lock = deps.LockManager
		}
		if deps.SignalBus != nil {
			opts.Bus = deps.SignalBus
		}
		svc.scheduler = settlement.NewScheduler(resolver, opts, a.logger)

		var oddsArchiver domain.Archiver
		if a.cfg.Odds.ArchivePruned {
			oddsArchiver = deps.Archiver
		}
		svc.collector = pipeline.NewOddsCollector(
			deps.Games, deps.Odds, deps.OddsSnapshotStore, oddsArchiver,
			deps.Metrics, a.cfg.GameLocation(), a.logger,
		)
		svc.retention = pipeline.NewRetention(deps.PredictionStore, deps.Archiver, a.logger)
	}

	if deps.Stream != nil {
		svc.feed = feed.NewPriceFeed(deps.Stream, deps.PriceCache, deps.SignalBus, deps.Notifier, deps.Metrics, a.logger)
		if svc.collector != nil {
			svc.collector.OnQuote(svc.feed.TrackQuote)
		}
	}
	return svc
}

// SettleMode runs the settlement loop and the prediction cleanup job.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")
	if !a.cfg.Settlement.Enabled {
		a.logger.WarnContext(ctx, "settlement.enabled is false, but settle mode always runs settlement")
	}

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)

	a.startSettlement(ctx, g, svc)
	a.startOrchestrator(ctx, g, nil, svc.retention)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return g.Wait()
}

// CollectMode runs the odds collection and prune jobs.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting collect mode")
	if !a.cfg.Odds.Enabled {
		a.logger.WarnContext(ctx, "odds.enabled is false, but collect mode always runs the collector")
	}

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)

	a.startOrchestrator(ctx, g, svc.collector, nil)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return g.Wait()
}

// StreamMode keeps the realtime price connection and mirrors prices to the
// cache and bus.
func (a *App) StreamMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting stream mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)

	if err := a.startStream(ctx, g, deps, svc); err != nil {
		return fmt.Errorf("stream mode: %w", err)
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return g.Wait()
}

// ServerMode serves the HTTP API only. Settlement and collection still run
// when triggered through it.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)

	if svc.feed != nil {
		if err := a.startStream(ctx, g, deps, svc); err != nil {
			return fmt.Errorf("server mode: %w", err)
		}
	}
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// FullMode starts every enabled subsystem in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)

	if a.cfg.Settlement.Enabled {
		a.startSettlement(ctx, g, svc)
	}

	collector := svc.collector
	if !a.cfg.Odds.Enabled {
		collector = nil
	}
	a.startOrchestrator(ctx, g, collector, svc.retention)

	if svc.feed != nil {
		if err := a.startStream(ctx, g, deps, svc); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return g.Wait()
}

// startSettlement runs the scheduler until ctx is cancelled, then waits for
// an in-flight pass to finish.
func (a *App) startSettlement(ctx context.Context, g *errgroup.Group, svc *services) {
	g.Go(func() error {
		svc.scheduler.Start(ctx, a.cfg.Settlement.Interval.Duration)
		<-ctx.Done()
		svc.scheduler.Stop()
		svc.scheduler.Wait()
		a.logger.Info("settlement scheduler stopped")
		return nil
	})
}

func (a *App) startOrchestrator(ctx context.Context, g *errgroup.Group, collector *pipeline.OddsCollector, retention *pipeline.Retention) {
	if collector == nil && retention == nil {
		return
	}
	orch := pipeline.NewOrchestrator(collector, retention, pipeline.OrchestratorConfig{
		CollectCron:    a.cfg.Odds.CollectCron,
		PruneCron:      a.cfg.Odds.PruneCron,
		RetentionHours: a.cfg.Odds.RetentionHours,
		InitialDelay:   a.cfg.Odds.InitialDelay.Duration,
		CleanupCron:    a.cfg.Settlement.CleanupCron,
		RetentionDays:  a.cfg.Settlement.RetentionDays,
	}, a.logger)

	g.Go(func() error {
		return orch.Run(ctx)
	})
}

func (a *App) startStream(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) error {
	if svc.feed == nil {
		return errors.New("price stream is not configured")
	}
	if ids := a.cfg.Stream.AssetIDs; len(ids) > 0 {
		if err := deps.Stream.Subscribe(ids...); err != nil {
			return fmt.Errorf("subscribe configured assets: %w", err)
		}
	}
	if err := deps.Stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect price stream: %w", err)
	}

	g.Go(func() error {
		return svc.feed.Run(ctx)
	})
	return nil
}

// startHTTPServer adds the ops API server and, when a signal bus is wired,
// the WebSocket hub to the errgroup. The server is shut down gracefully when
// ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	var checks []handler.Check
	if deps.Postgres != nil {
		checks = append(checks, handler.Check{Name: "postgres", Probe: deps.Postgres.Ping})
	}
	if deps.Redis != nil {
		checks = append(checks, handler.Check{Name: "redis", Probe: deps.Redis.Ping})
	}
	if deps.S3 != nil {
		checks = append(checks, handler.Check{Name: "s3", Probe: deps.S3.Health})
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger, checks...),
		Metrics: deps.Metrics.Handler(),
	}
	if svc.aggregator != nil {
		handlers.Leaderboard = handler.NewLeaderboardHandler(svc.aggregator, a.logger)
	}
	if deps.MarketStore != nil {
		handlers.Markets = handler.NewMarketHandler(deps.MarketStore, a.logger)
	}
	if svc.scheduler != nil {
		handlers.Settlement = handler.NewSettlementHandler(svc.scheduler, a.logger)
	}
	if svc.collector != nil {
		handlers.Odds = handler.NewOddsHandler(svc.collector, a.logger)
	}
	if svc.retention != nil {
		handlers.Maintenance = handler.NewMaintenanceHandler(svc.retention, a.logger)
	}
	var stream handler.StreamReader
	if deps.Stream != nil {
		stream = deps.Stream
	}
	handlers.Stream = handler.NewStreamHandler(stream, a.logger)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hubCfg := ws.Config{Mode: a.cfg.Mode, StartedAt: time.Now().UTC()}
		if deps.Stream != nil {
			hubCfg.Status = func() any { return deps.Stream.Status() }
		}
		hub = ws.NewHub(deps.SignalBus, a.logger, hubCfg)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		APIKey:         a.cfg.Server.APIKey,
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
		CORS: middleware.CORSConfig{
			Origins: a.cfg.Server.CORSOrigins,
			Methods: a.cfg.Server.CORSMethods,
			Headers: a.cfg.Server.CORSHeaders,
			MaxAge:  a.cfg.Server.CORSMaxAge.Duration,
		},
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
