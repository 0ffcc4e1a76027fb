// Package feed bridges the realtime price stream into the shared price cache,
// the signal bus and operator notifications.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/metrics"
	"github.com/Crime1000x/moltnba/internal/platform/polymarket"
)

// Stream is the part of polymarket.StreamClient the feed consumes.
type Stream interface {
	Events() <-chan polymarket.Event
	Subscribe(ids ...string) error
	Status() polymarket.StreamStatus
}

// Alerter delivers operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// priceEvent is the JSON shape published to domain.ChannelPrices.
type priceEvent struct {
	Event     string  `json:"event"`
	AssetID   string  `json:"asset_id"`
	Price     float64 `json:"price"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
}

// streamEvent is the JSON shape published to domain.ChannelStream.
type streamEvent struct {
	Event   string `json:"event"`
	State   string `json:"state"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PriceFeed consumes stream events until the stream closes.
type PriceFeed struct {
	stream  Stream
	cache   domain.PriceCache
	bus     domain.SignalBus
	alerter Alerter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPriceFeed creates a PriceFeed. cache, bus, alerter and m may be nil.
func NewPriceFeed(stream Stream, cache domain.PriceCache, bus domain.SignalBus, alerter Alerter, m *metrics.Metrics, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		stream:  stream,
		cache:   cache,
		bus:     bus,
		alerter: alerter,
		metrics: m,
		logger:  logger.With(slog.String("component", "price_feed")),
	}
}

// Run handles events until ctx is done or the event channel is closed.
func (f *PriceFeed) Run(ctx context.Context) error {
	events := f.stream.Events()
	f.logger.Info("price feed started")
	defer f.logger.Info("price feed stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			f.handle(ctx, ev)
		}
	}
}

// TrackQuote subscribes the stream to the quote's tokens. It matches the
// pipeline.OddsCollector OnQuote hook.
func (f *PriceFeed) TrackQuote(ctx context.Context, g domain.GameResult, q *domain.Quote) {
	if q == nil || len(q.TokenIDs) == 0 {
		return
	}
	if err := f.stream.Subscribe(q.TokenIDs...); err != nil {
		f.logger.WarnContext(ctx, "stream subscribe failed",
			slog.String("game_id", g.GameID),
			slog.String("error", err.Error()),
		)
	}
}

func (f *PriceFeed) handle(ctx context.Context, ev polymarket.Event) {
	f.metrics.RecordStreamEvent(ev.Kind.String())

	switch ev.Kind {
	case polymarket.EventPrice:
		p := ev.Price
		if f.cache != nil {
			if err := f.cache.SetPrice(ctx, p.AssetID, p.Price, p.Timestamp); err != nil {
				f.logger.DebugContext(ctx, "price cache write failed",
					slog.String("asset_id", p.AssetID),
					slog.String("error", err.Error()),
				)
			}
		}
		f.publish(ctx, domain.ChannelPrices, priceEvent{
			Event:     p.EventType,
			AssetID:   p.AssetID,
			Price:     p.Price,
			Source:    "polymarket",
			Timestamp: p.Timestamp.UTC().Format(time.RFC3339Nano),
		})

	case polymarket.EventState:
		st := f.stream.Status()
		f.metrics.SetStreamState(ev.State == polymarket.StateConnected, st.CachedPrices)
		f.publish(ctx, domain.ChannelStream, streamEvent{
			Event:   "state",
			State:   string(ev.State),
			Attempt: ev.Attempt,
			Error:   errString(ev.Err),
		})

	case polymarket.EventTerminal:
		f.metrics.SetStreamState(false, f.stream.Status().CachedPrices)
		f.publish(ctx, domain.ChannelStream, streamEvent{
			Event:   "terminal",
			State:   string(polymarket.StateDisconnected),
			Attempt: ev.Attempt,
			Error:   errString(ev.Err),
		})
		f.logger.ErrorContext(ctx, "price stream gave up reconnecting",
			slog.Int("attempts", ev.Attempt),
			slog.String("error", errString(ev.Err)),
		)
		if f.alerter != nil {
			msg := fmt.Sprintf("Reconnect attempts exhausted after %d tries: %s", ev.Attempt, errString(ev.Err))
			if err := f.alerter.Notify(ctx, "stream_failed", "Price stream down", msg); err != nil {
				f.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (f *PriceFeed) publish(ctx context.Context, channel string, v any) {
	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := f.bus.Publish(ctx, channel, payload); err != nil {
		f.logger.DebugContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
