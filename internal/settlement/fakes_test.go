package settlement

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/leaderboard"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarkets struct {
	mu       sync.Mutex
	markets  map[string]*domain.Market
	outcomes map[string][]domain.Outcome
}

func newFakeMarkets() *fakeMarkets {
	return &fakeMarkets{
		markets:  make(map[string]*domain.Market),
		outcomes: make(map[string][]domain.Outcome),
	}
}

func (f *fakeMarkets) add(m domain.Market, outcomes ...domain.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.Status == "" {
		m.Status = domain.MarketStatusOpen
	}
	f.markets[m.ID] = &m
	f.outcomes[m.ID] = outcomes
}

func (f *fakeMarkets) status(id string) domain.MarketStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets[id].Status
}

func (f *fakeMarkets) GetByID(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return *m, nil
}

func (f *fakeMarkets) ListResolvable(_ context.Context, cutoff time.Time, limit int) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Market
	for _, m := range f.markets {
		if !m.Status.Settled() && m.EndTime.Before(cutoff) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMarkets) ListSettledWithPending(context.Context, int) ([]domain.Market, error) {
	return nil, nil
}

func (f *fakeMarkets) ListOutcomes(_ context.Context, marketID string) ([]domain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[marketID], nil
}

func (f *fakeMarkets) Resolve(_ context.Context, id, outcomeID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.markets[id]
	if m == nil || m.Status.Settled() {
		return false, nil
	}
	m.Status = domain.MarketStatusResolved
	m.ResolvedOutcomeID = &outcomeID
	m.ResolvedAt = &at
	return true, nil
}

func (f *fakeMarkets) Cancel(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.markets[id]
	if m == nil || m.Status.Settled() {
		return false, nil
	}
	m.Status = domain.MarketStatusCanceled
	m.ResolvedAt = &at
	return true, nil
}

func (f *fakeMarkets) ListSettled(context.Context, domain.ListOpts) ([]domain.SettledMarket, error) {
	return nil, nil
}

// sweepMarkets wraps fakeMarkets with a working recovery query backed by the
// prediction fake.
type sweepMarkets struct {
	*fakeMarkets
	preds *fakePredictions
}

func (s sweepMarkets) ListSettledWithPending(_ context.Context, limit int) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status.Settled() && s.preds.hasPending(m.ID) {
			out = append(out, *m)
		}
	}
	return out, nil
}

type fakePredictions struct {
	mu       sync.Mutex
	preds    map[string]*domain.Prediction
	failNext map[string]error
}

func newFakePredictions(preds ...domain.Prediction) *fakePredictions {
	f := &fakePredictions{
		preds:    make(map[string]*domain.Prediction),
		failNext: make(map[string]error),
	}
	for i := range preds {
		p := preds[i]
		p.CreatedAt = time.Unix(int64(i), 0)
		f.preds[p.ID] = &p
	}
	return f
}

func (f *fakePredictions) get(id string) domain.Prediction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.preds[id]
}

func (f *fakePredictions) hasPending(marketID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.preds {
		if p.MarketID == marketID && p.Pending() {
			return true
		}
	}
	return false
}

func (f *fakePredictions) ListPending(_ context.Context, marketID string) ([]domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Prediction
	for _, p := range f.preds {
		if p.MarketID == marketID && p.Pending() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakePredictions) SetScore(_ context.Context, id string, score float64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failNext[id]; ok {
		delete(f.failNext, id)
		return false, err
	}
	p := f.preds[id]
	if p.BrierScore != nil {
		return false, nil
	}
	p.BrierScore = &score
	p.ScoredAt = &at
	return true, nil
}

func (f *fakePredictions) MarkVoided(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.preds[id]
	if p.BrierScore != nil || p.VoidedAt != nil {
		return false, nil
	}
	p.VoidedAt = &at
	return true, nil
}

func (f *fakePredictions) ListSettledBefore(context.Context, time.Time) ([]domain.Prediction, error) {
	return nil, nil
}

func (f *fakePredictions) DeleteSettledBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// fakeStats applies the real leaderboard arithmetic in memory.
type fakeStats struct {
	mu   sync.Mutex
	rows map[string]domain.AgentStats
}

func newFakeStats() *fakeStats {
	return &fakeStats{rows: make(map[string]domain.AgentStats)}
}

func (f *fakeStats) get(agent string) domain.AgentStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[agent]
}

func (f *fakeStats) RecordResolution(_ context.Context, agent string, brier float64) (domain.AgentStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.rows[agent]
	st.AgentID = agent
	leaderboard.ApplyResolution(&st, brier)
	f.rows[agent] = st
	return st, nil
}

func (f *fakeStats) RecordCanceled(_ context.Context, agent string) (domain.AgentStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.rows[agent]
	st.AgentID = agent
	leaderboard.ApplyCanceled(&st)
	f.rows[agent] = st
	return st, nil
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeProvider struct {
	mu       sync.Mutex
	byID     map[string]*domain.GameResult
	byDate   map[string]*domain.GameResult // keyed by date
	panicIDs map[string]bool
	requests []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		byID:   make(map[string]*domain.GameResult),
		byDate:   make(map[string]*domain.GameResult),
		panicIDs: make(map[string]bool),
	}
}

func (f *fakeProvider) GetGame(_ context.Context, id string) (*domain.GameResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, "id:"+id)
	if f.panicIDs[id] {
		panic("malformed game payload " + id)
	}
	if g, ok := f.byID[id]; ok {
		return g, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeProvider) GetFinalResult(_ context.Context, date, teamA, teamB string) (*domain.GameResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, date+":"+teamA+":"+teamB)
	if g, ok := f.byDate[date]; ok {
		return g, nil
	}
	return nil, domain.ErrNotFound
}
