package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/metrics"
	"github.com/Crime1000x/moltnba/internal/pipeline"
	"github.com/Crime1000x/moltnba/internal/platform/polymarket"
	"github.com/Crime1000x/moltnba/internal/server/handler"
	"github.com/Crime1000x/moltnba/internal/settlement"
)

const testKey = "k3y"

type fakeBoard struct{}

func (fakeBoard) GetLeaderboard(_ context.Context, limit, offset int) ([]domain.LeaderboardEntry, error) {
	m := 0.12
	return []domain.LeaderboardEntry{
		{Rank: offset + 1, AgentStats: domain.AgentStats{AgentID: "a1", Total: 3, Resolved: 2, MeanBrier: &m}},
	}, nil
}

func (fakeBoard) GetAgent(_ context.Context, id string) (domain.AgentStats, error) {
	if id != "a1" {
		return domain.AgentStats{}, domain.ErrNotFound
	}
	return domain.AgentStats{AgentID: "a1", Total: 3}, nil
}

type fakeSettled struct{}

func (fakeSettled) ListSettled(context.Context, domain.ListOpts) ([]domain.SettledMarket, error) {
	return []domain.SettledMarket{{MarketID: "m1", Status: domain.MarketStatusResolved, PredictionCount: 4}}, nil
}

type fakeScheduler struct {
	running bool
}

func (f *fakeScheduler) TriggerNow() bool { return !f.running }
func (f *fakeScheduler) Running() bool    { return f.running }

func (f *fakeScheduler) LastReport() (settlement.Report, bool) {
	return settlement.Report{RunID: "r1", Resolved: 2}, true
}

type fakeOdds struct {
	busy       bool
	pruneHours int
}

func (f *fakeOdds) CollectAllActive(context.Context) (pipeline.CollectReport, error) {
	if f.busy {
		return pipeline.CollectReport{}, pipeline.ErrBusy
	}
	return pipeline.CollectReport{Games: 3, Inserted: 2}, nil
}

func (f *fakeOdds) PruneOlderThan(_ context.Context, hours int) (int64, error) {
	f.pruneHours = hours
	return 7, nil
}

func (f *fakeOdds) History(_ context.Context, eventID string, _ int) ([]domain.OddsSnapshot, error) {
	return []domain.OddsSnapshot{{EventID: eventID, HomeProb: 0.6, AwayProb: 0.4, CollectedAt: time.Now()}}, nil
}

type fakeStream struct{}

func (fakeStream) Status() polymarket.StreamStatus {
	return polymarket.StreamStatus{State: "connected", CachedPrices: 2}
}

func (fakeStream) GetAllCachedPrices() map[string]polymarket.PriceUpdate {
	return map[string]polymarket.PriceUpdate{
		"b": {AssetID: "b", Price: 0.4},
		"a": {AssetID: "a", Price: 0.6},
	}
}

type fakeCleaner struct{ days int }

func (f *fakeCleaner) CleanupSettled(_ context.Context, days int) (int64, error) {
	f.days = days
	return 11, nil
}

type testEnv struct {
	h       http.Handler
	sched   *fakeScheduler
	odds    *fakeOdds
	cleaner *fakeCleaner
}

func newTestEnv(t *testing.T, stream handler.StreamReader, pingErr error) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{sched: &fakeScheduler{}, odds: &fakeOdds{}, cleaner: &fakeCleaner{}}

	env.h = newHandler(Config{APIKey: testKey}, Handlers{
		Health: handler.NewHealthHandler(logger, handler.Check{
			Name:  "postgres",
			Probe: func(context.Context) error { return pingErr },
		}),
		Leaderboard: handler.NewLeaderboardHandler(fakeBoard{}, logger),
		Markets:     handler.NewMarketHandler(fakeSettled{}, logger),
		Settlement:  handler.NewSettlementHandler(env.sched, logger),
		Odds:        handler.NewOddsHandler(env.odds, logger),
		Stream:      handler.NewStreamHandler(stream, logger),
		Maintenance: handler.NewMaintenanceHandler(env.cleaner, logger),
		Metrics:     metrics.New().Handler(),
	}, nil, logger)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, auth bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, body
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, nil)
	rec, body := env.do(t, http.MethodGet, "/api/health", false)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
}

func TestHealthDegraded(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, errors.New("connection refused"))
	rec, body := env.do(t, http.MethodGet, "/api/health", false)
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
}

func TestMetricsIsPublic(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, nil)
	rec, _ := env.do(t, http.MethodGet, "/metrics", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "moltnba_") {
		t.Fatal("application metrics missing from scrape")
	}
}

func TestLeaderboardRequiresKey(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, nil)

	rec, _ := env.do(t, http.MethodGet, "/api/leaderboard", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec, body := env.do(t, http.MethodGet, "/api/leaderboard?offset=10", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	agents := body["agents"].([]any)
	first := agents[0].(map[string]any)
	if first["rank"] != float64(11) || first["mean_brier"] != 0.12 {
		t.Fatalf("unexpected entry %v", first)
	}
}

func TestAgentStats(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, nil)

	rec, body := env.do(t, http.MethodGet, "/api/agents/a1/stats", true)
	if rec.Code != http.StatusOK || body["agent_id"] != "a1" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
	if _, ok := body["rank"]; ok {
		t.Fatal("single agent response should not carry a rank")
	}

	rec, _ = env.do(t, http.MethodGet, "/api/agents/nobody/stats", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSettledMarkets(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, nil)
	rec, body := env.do(t, http.MethodGet, "/api/markets/settled", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if markets := body["markets"].([]any); len(markets) != 1 {
		t.Fatalf("markets = %v", markets)
	}
}

func TestSettlementTrigger(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, nil)

	rec, _ := env.do(t, http.MethodPost, "/api/settlement/trigger", true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	env.sched.running = true
	rec, _ = env.do(t, http.MethodPost, "/api/settlement/trigger", true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	rec, body := env.do(t, http.MethodGet, "/api/settlement/status", true)
	if rec.Code != http.StatusOK || body["running"] != true || body["last_report"] == nil {
		t.Fatalf("got %d %v", rec.Code, body)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/settlement/trigger", true)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET trigger status = %d, want 405", rec.Code)
	}
}

func TestOddsEndpoints(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, nil)

	rec, body := env.do(t, http.MethodPost, "/api/odds/collect", true)
	if rec.Code != http.StatusOK || body["inserted"] != float64(2) {
		t.Fatalf("collect: %d %v", rec.Code, body)
	}

	env.odds.busy = true
	rec, _ = env.do(t, http.MethodPost, "/api/odds/collect", true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("busy collect status = %d", rec.Code)
	}

	rec, body = env.do(t, http.MethodPost, "/api/odds/prune?hours=12", true)
	if rec.Code != http.StatusOK || body["deleted"] != float64(7) || env.odds.pruneHours != 12 {
		t.Fatalf("prune: %d %v hours=%d", rec.Code, body, env.odds.pruneHours)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/odds/prune?hours=-1", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad hours status = %d", rec.Code)
	}

	rec, body = env.do(t, http.MethodGet, "/api/odds/18447/history?hours=6", true)
	if rec.Code != http.StatusOK || body["event_id"] != "18447" {
		t.Fatalf("history: %d %v", rec.Code, body)
	}
	snaps := body["snapshots"].([]any)
	if len(snaps) != 1 || snaps[0].(map[string]any)["home_prob"] != 0.6 {
		t.Fatalf("snapshots = %v", snaps)
	}
}

func TestStreamEndpoints(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, nil)

	rec, body := env.do(t, http.MethodGet, "/api/stream/status", true)
	if rec.Code != http.StatusOK || body["state"] != "connected" {
		t.Fatalf("status: %d %v", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodGet, "/api/stream/prices", true)
	if rec.Code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("prices: %d %v", rec.Code, body)
	}
	prices := body["prices"].([]any)
	if prices[0].(map[string]any)["asset_id"] != "a" {
		t.Fatalf("prices not sorted: %v", prices)
	}
}

func TestStreamDisabled(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec, _ := env.do(t, http.MethodGet, "/api/stream/status", true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMaintenanceCleanup(t *testing.T) {
	env := newTestEnv(t, fakeStream{}, nil)

	rec, body := env.do(t, http.MethodPost, "/api/maintenance/cleanup", true)
	if rec.Code != http.StatusOK || body["deleted"] != float64(11) || env.cleaner.days != 30 {
		t.Fatalf("got %d %v days=%d", rec.Code, body, env.cleaner.days)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/maintenance/cleanup?days=abc", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
