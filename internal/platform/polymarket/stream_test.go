package polymarket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readCommand(t *testing.T, ch <-chan []byte) wsCommand {
	t.Helper()
	select {
	case raw := <-ch:
		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
	}
	return wsCommand{}
}

func TestStreamReplaysSubscriptionsAfterReconnect(t *testing.T) {
	var conns atomic.Int32
	received := make(chan []byte, 16)

	srv := newTestServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
			if n == 1 {
				// Drop the first connection after its subscribe message.
				return
			}
		}
	})

	c := NewStreamClient(StreamConfig{
		URL:           wsURL(srv),
		BackoffBase:   20 * time.Millisecond,
		BackoffFactor: 1,
		MaxAttempts:   5,
		PingInterval:  time.Hour,
	}, discardLogger())
	defer c.Close()

	if err := c.Subscribe("B", "A", "A"); err != nil {
		t.Fatalf("subscribe while disconnected: %v", err)
	}
	if err := c.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	// Second Connect is a no-op.
	if err := c.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 2; i++ {
		cmd := readCommand(t, received)
		if cmd.Type != "subscribe" || cmd.Channel != "market" {
			t.Fatalf("connection %d: unexpected command %+v", i, cmd)
		}
		if strings.Join(cmd.Assets, ",") != "A,B" {
			t.Fatalf("connection %d: assets = %v, want [A B]", i, cmd.Assets)
		}
	}

	select {
	case raw := <-received:
		t.Fatalf("unexpected extra message %s", raw)
	case <-time.After(100 * time.Millisecond):
	}

	// Only the new id goes out while connected.
	if err := c.Subscribe("A", "C"); err != nil {
		t.Fatal(err)
	}
	cmd := readCommand(t, received)
	if cmd.Type != "subscribe" || strings.Join(cmd.Assets, ",") != "C" {
		t.Fatalf("unexpected incremental subscribe %+v", cmd)
	}

	if err := c.Unsubscribe("B"); err != nil {
		t.Fatal(err)
	}
	cmd = readCommand(t, received)
	if cmd.Type != "unsubscribe" || strings.Join(cmd.Assets, ",") != "B" {
		t.Fatalf("unexpected unsubscribe %+v", cmd)
	}

	if got := conns.Load(); got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}
	st := c.Status()
	if st.State != StateConnected || st.Subscriptions != 2 || st.Attempts != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestStreamTerminalAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := NewStreamClient(StreamConfig{
		URL:           url,
		BackoffBase:   5 * time.Millisecond,
		BackoffFactor: 2,
		MaxAttempts:   3,
		PingInterval:  time.Hour,
	}, discardLogger())

	if err := c.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}

	var terminals []Event
	deadline := time.After(3 * time.Second)
wait:
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == EventTerminal {
				terminals = append(terminals, ev)
				break wait
			}
		case <-deadline:
			t.Fatal("no terminal event")
		}
	}

	// Nothing else is dialled after the terminal event.
	time.Sleep(100 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	for ev := range c.Events() {
		if ev.Kind == EventTerminal {
			terminals = append(terminals, ev)
		}
	}

	if len(terminals) != 1 {
		t.Fatalf("terminal events = %d, want 1", len(terminals))
	}
	if terminals[0].Attempt != 4 || terminals[0].Err == nil {
		t.Fatalf("terminal event = %+v", terminals[0])
	}
	st := c.Status()
	if !st.Terminal || st.State != StateDisconnected {
		t.Fatalf("status = %+v", st)
	}
}

func TestStreamTerminalSurvivesFullBuffer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := NewStreamClient(StreamConfig{
		URL:           url,
		BackoffBase:   time.Millisecond,
		BackoffFactor: 2,
		MaxAttempts:   1,
		PingInterval:  time.Hour,
		EventBuffer:   1,
	}, discardLogger())
	if err := c.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !c.Status().Terminal {
		if time.Now().After(deadline) {
			t.Fatal("client never gave up")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Let the supervisor reach the terminal send with the buffer already full.
	time.Sleep(50 * time.Millisecond)

	var terminals int
	timeout := time.After(3 * time.Second)
read:
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == EventTerminal {
				terminals++
				break read
			}
		case <-timeout:
			t.Fatal("terminal event lost")
		}
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	for ev := range c.Events() {
		if ev.Kind == EventTerminal {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want 1", terminals)
	}
}

func TestStreamBackoff(t *testing.T) {
	c := NewStreamClient(StreamConfig{}, discardLogger())
	want := []time.Duration{5 * time.Second, 7500 * time.Millisecond, 11250 * time.Millisecond}
	for i, w := range want {
		if got := c.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
	if c.Backoff(2) <= c.Backoff(1) {
		t.Fatal("backoff must grow")
	}

	flat := NewStreamClient(StreamConfig{BackoffBase: time.Second, BackoffFactor: 1}, discardLogger())
	if flat.Backoff(2) <= flat.Backoff(1) {
		t.Fatalf("factor 1 gives flat delays %v, %v", flat.Backoff(1), flat.Backoff(2))
	}
}

func TestStreamHandleMessage(t *testing.T) {
	c := NewStreamClient(StreamConfig{}, discardLogger())

	c.handleMessage([]byte(`[
		{"event_type":"last_trade_price","asset_id":"a1","price":"0.61","timestamp":"1760000000000"},
		{"event_type":"book","asset_id":"a1","bids":[]},
		{"event_type":"price_change","market":"0xm","price_changes":[
			{"asset_id":"a2","price":"0.33","side":"BUY","size":"10"},
			{"asset_id":"a3","price":"bad"}
		]}
	]`))
	c.handleMessage([]byte(`{"event_type":"price_change","asset_id":"a4","price":"0.9"}`))
	c.handleMessage([]byte(`PONG`))

	p, ok := c.GetCachedPrice("a1")
	if !ok || p.Price != 0.61 || p.EventType != "last_trade_price" || p.Timestamp.UnixMilli() != 1760000000000 {
		t.Fatalf("a1 = %+v (%v)", p, ok)
	}
	if _, ok := c.GetCachedPrice("a3"); ok {
		t.Fatal("unparseable price must be ignored")
	}
	all := c.GetAllCachedPrices()
	if len(all) != 3 || all["a2"].Price != 0.33 || all["a4"].Price != 0.9 {
		t.Fatalf("cache = %+v", all)
	}

	var prices int
	for len(c.Events()) > 0 {
		if ev := <-c.Events(); ev.Kind == EventPrice {
			prices++
		}
	}
	if prices != 3 {
		t.Fatalf("price events = %d, want 3", prices)
	}
}

func TestStreamDropsEventsWhenFull(t *testing.T) {
	c := NewStreamClient(StreamConfig{EventBuffer: 1}, discardLogger())
	c.handleMessage([]byte(`{"event_type":"last_trade_price","asset_id":"a","price":"0.1"}`))
	c.handleMessage([]byte(`{"event_type":"last_trade_price","asset_id":"b","price":"0.2"}`))
	if got := c.Status().DroppedEvents; got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal("second Close must be a no-op")
	}
}
