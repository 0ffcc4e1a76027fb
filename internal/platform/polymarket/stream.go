package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Crime1000x/moltnba/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds a single dial.
	handshakeTimeout = 15 * time.Second

	marketChannel = "market"
)

// StreamState is the connection state of a StreamClient.
type StreamState string

const (
	StateDisconnected StreamState = "disconnected"
	StateConnecting   StreamState = "connecting"
	StateConnected    StreamState = "connected"
)

// EventKind discriminates stream events.
type EventKind int

const (
	// EventPrice carries a price update.
	EventPrice EventKind = iota
	// EventState reports a connection state change.
	EventState
	// EventTerminal is sent once when reconnection attempts are exhausted.
	EventTerminal
)

func (k EventKind) String() string {
	switch k {
	case EventPrice:
		return "price"
	case EventState:
		return "state"
	case EventTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// PriceUpdate is the latest known price of one asset.
type PriceUpdate struct {
	AssetID   string    `json:"asset_id"`
	Price     float64   `json:"price"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is emitted on the channel returned by StreamClient.Events.
type Event struct {
	Kind    EventKind
	State   StreamState
	Price   PriceUpdate
	Attempt int
	Err     error
}

// StreamStatus is a point-in-time view of the client.
type StreamStatus struct {
	State         StreamState `json:"state"`
	Attempts      int         `json:"reconnect_attempts"`
	Subscriptions int         `json:"subscribed_count"`
	CachedPrices  int         `json:"cached_prices_count"`
	Terminal      bool        `json:"terminal"`
	DroppedEvents uint64      `json:"dropped_events"`
}

// StreamConfig configures a StreamClient.
type StreamConfig struct {
	URL           string
	BackoffBase   time.Duration
	BackoffFactor float64
	MaxAttempts   int
	PingInterval  time.Duration
	EventBuffer   int
}

// StreamClient keeps a market-channel WebSocket open, replays the tracked
// asset set after every reconnect and caches the latest price per asset.
type StreamClient struct {
	cfg    StreamConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    StreamState
	conn     *websocket.Conn
	attempts int
	terminal bool
	closed   bool
	running  bool
	subs     map[string]struct{}
	cancel   context.CancelFunc
	done     chan struct{}

	// gorilla allows one concurrent writer per connection.
	writeMu sync.Mutex

	pricesMu sync.RWMutex
	prices   map[string]PriceUpdate

	events    chan Event
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewStreamClient creates a disconnected client. Zero config values fall back
// to a 5s base delay, factor 1.5, 10 attempts and a 30s ping. A factor of 1
// or less is replaced by 1.5 so delays always grow.
func NewStreamClient(cfg StreamConfig, logger *slog.Logger) *StreamClient {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = 1.5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &StreamClient{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "stream")),
		state:  StateDisconnected,
		subs:   make(map[string]struct{}),
		prices: make(map[string]PriceUpdate),
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Connect starts the connection supervisor and returns immediately. It is a
// no-op while the client is already connecting or connected.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("polymarket/stream: %w", domain.ErrWSDisconnect)
	}
	if c.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.terminal = false
	c.attempts = 0
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.supervise(runCtx, c.done)
	return nil
}

// Subscribe adds asset ids to the tracked set. When connected, a subscribe
// message for the ids not tracked before is sent right away; otherwise they
// go out with the next connection.
func (c *StreamClient) Subscribe(ids ...string) error {
	c.mu.Lock()
	var added []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.subs[id]; !ok {
			c.subs[id] = struct{}{}
			added = append(added, id)
		}
	}
	conn := c.liveConnLocked()
	c.mu.Unlock()

	if conn == nil || len(added) == 0 {
		return nil
	}
	sort.Strings(added)
	if err := c.send(conn, wsCommand{Type: "subscribe", Channel: marketChannel, Assets: added}); err != nil {
		return fmt.Errorf("polymarket/stream: subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes asset ids from the tracked set and tells the server
// when connected.
func (c *StreamClient) Unsubscribe(ids ...string) error {
	c.mu.Lock()
	var removed []string
	for _, id := range ids {
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			removed = append(removed, id)
		}
	}
	conn := c.liveConnLocked()
	c.mu.Unlock()

	if conn == nil || len(removed) == 0 {
		return nil
	}
	sort.Strings(removed)
	if err := c.send(conn, wsCommand{Type: "unsubscribe", Channel: marketChannel, Assets: removed}); err != nil {
		return fmt.Errorf("polymarket/stream: unsubscribe: %w", err)
	}
	return nil
}

// Subscriptions returns the tracked asset ids, sorted.
func (c *StreamClient) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedSubsLocked()
}

// GetCachedPrice returns the latest price seen for an asset.
func (c *StreamClient) GetCachedPrice(assetID string) (PriceUpdate, bool) {
	c.pricesMu.RLock()
	defer c.pricesMu.RUnlock()
	p, ok := c.prices[assetID]
	return p, ok
}

// GetAllCachedPrices returns a copy of the price cache.
func (c *StreamClient) GetAllCachedPrices() map[string]PriceUpdate {
	c.pricesMu.RLock()
	defer c.pricesMu.RUnlock()
	out := make(map[string]PriceUpdate, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}

// Events returns the event channel. Price and state events are dropped and
// counted when the buffer is full; the terminal event waits for a reader
// until Close. The channel is closed by Close.
func (c *StreamClient) Events() <-chan Event {
	return c.events
}

// Status reports the current connection state and counters.
func (c *StreamClient) Status() StreamStatus {
	c.mu.Lock()
	st := StreamStatus{
		State:         c.state,
		Attempts:      c.attempts,
		Subscriptions: len(c.subs),
		Terminal:      c.terminal,
	}
	c.mu.Unlock()

	c.pricesMu.RLock()
	st.CachedPrices = len(c.prices)
	c.pricesMu.RUnlock()
	st.DroppedEvents = c.dropped.Load()
	return st
}

// Backoff returns the delay before reconnect attempt n (1-based):
// BackoffBase * BackoffFactor^(n-1).
func (c *StreamClient) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(c.cfg.BackoffBase) * math.Pow(c.cfg.BackoffFactor, float64(attempt-1)))
}

// Close stops the supervisor, closes the connection and then the event
// channel. It is safe to call more than once.
func (c *StreamClient) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancel, done := c.cancel, c.done
		c.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}
		close(c.events)
	})
	return nil
}

// --------------------------------------------------------------------------
// Supervisor
// --------------------------------------------------------------------------

func (c *StreamClient) supervise(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
	}()

	for {
		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err == nil {
			c.onOpen(conn)
			err = c.serve(ctx, conn)
			c.onClose(conn)
		}

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		c.setState(StateDisconnected)

		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		exhausted := attempt > c.cfg.MaxAttempts
		if exhausted {
			c.terminal = true
		}
		c.mu.Unlock()

		if exhausted {
			c.logger.Error("stream reconnect attempts exhausted",
				slog.Int("max_attempts", c.cfg.MaxAttempts),
				slog.String("error", errString(err)),
			)
			c.emitTerminal(ctx, Event{Kind: EventTerminal, State: StateDisconnected, Attempt: attempt, Err: err})
			return
		}

		delay := c.Backoff(attempt)
		c.logger.Warn("stream disconnected, reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", errString(err)),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *StreamClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/stream: dial: %w", err)
	}
	return conn, nil
}

// onOpen marks the client connected and sends one subscribe message holding
// every tracked asset.
func (c *StreamClient) onOpen(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	ids := c.sortedSubsLocked()
	c.mu.Unlock()

	c.logger.Info("stream connected", slog.Int("subscriptions", len(ids)))
	c.emit(Event{Kind: EventState, State: StateConnected})

	if len(ids) == 0 {
		return
	}
	if err := c.send(conn, wsCommand{Type: "subscribe", Channel: marketChannel, Assets: ids}); err != nil {
		// The read loop will see the broken connection and reconnect.
		c.logger.Warn("stream resubscribe failed", slog.String("error", err.Error()))
	}
}

func (c *StreamClient) onClose(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// serve reads frames until the connection fails or ctx is done, sending a
// ping frame every PingInterval meanwhile.
func (c *StreamClient) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				// Unblock ReadMessage.
				_ = conn.Close()
				return
			case <-ticker.C:
				c.writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("polymarket/stream: read: %w", err)
		}
		c.handleMessage(data)
	}
}

func (c *StreamClient) send(conn *websocket.Conn, cmd wsCommand) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(cmd)
}

// handleMessage decodes a frame holding one message or an array of them.
func (c *StreamClient) handleMessage(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return
	}

	var msgs []wsMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			c.logger.Debug("stream: undecodable frame", slog.String("error", err.Error()))
			return
		}
	} else {
		var m wsMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			c.logger.Debug("stream: undecodable frame", slog.String("error", err.Error()))
			return
		}
		msgs = append(msgs, m)
	}

	for _, m := range msgs {
		ts := parseMillis(m.Timestamp)
		switch m.EventType {
		case "price_change":
			if len(m.PriceChanges) > 0 {
				for _, pc := range m.PriceChanges {
					c.updatePrice(pc.AssetID, pc.Price, m.EventType, ts)
				}
				continue
			}
			c.updatePrice(m.AssetID, m.Price, m.EventType, ts)
		case "last_trade_price":
			c.updatePrice(m.AssetID, m.Price, m.EventType, ts)
		}
	}
}

func (c *StreamClient) updatePrice(assetID, price, eventType string, ts time.Time) {
	if assetID == "" {
		return
	}
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return
	}
	u := PriceUpdate{AssetID: assetID, Price: p, EventType: eventType, Timestamp: ts}

	c.pricesMu.Lock()
	c.prices[assetID] = u
	c.pricesMu.Unlock()

	c.emit(Event{Kind: EventPrice, State: StateConnected, Price: u})
}

func (c *StreamClient) setState(s StreamState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.emit(Event{Kind: EventState, State: s})
	}
}

func (c *StreamClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

// emitTerminal blocks until the terminal event is taken or ctx ends. Close
// cancels ctx before closing the channel.
func (c *StreamClient) emitTerminal(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
		c.dropped.Add(1)
	}
}

func (c *StreamClient) liveConnLocked() *websocket.Conn {
	if c.state != StateConnected {
		return nil
	}
	return c.conn
}

func (c *StreamClient) sortedSubsLocked() []string {
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func parseMillis(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Now()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
