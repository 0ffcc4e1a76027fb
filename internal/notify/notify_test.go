package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type recordingSender struct {
	name  string
	err   error
	calls []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.calls = append(s.calls, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"stream_failed", " "}, testLogger())

	if err := n.Notify(context.Background(), "settlement_failed", "x", "y"); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), "stream_failed", "down", "y"); err != nil {
		t.Fatal(err)
	}
	if err := n.NotifyAll(context.Background(), "all", "y"); err != nil {
		t.Fatal(err)
	}
	if strings.Join(s.calls, ",") != "down,all" {
		t.Fatalf("calls = %v", s.calls)
	}
}

func TestNotifierCollectsFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(good.calls) != 1 {
		t.Fatal("second sender skipped after a failure")
	}
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	if n.Enabled() {
		t.Fatal("nil notifier enabled")
	}
	if err := n.Notify(context.Background(), "e", "t", "m"); err != nil {
		t.Fatal(err)
	}
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC) }
	if err := d.Send(context.Background(), "Price stream down", "gave up"); err != nil {
		t.Fatal(err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Title != "Price stream down" || got.Embeds[0].Timestamp != "2026-10-20T12:00:00Z" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected error")
	}
}

func TestTelegramSender(t *testing.T) {
	var text, mode, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		path = r.URL.Path
		text, mode = r.PostForm.Get("text"), r.PostForm.Get("parse_mode")
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	s, err := NewTelegramSender("TOKEN", "42")
	if err != nil {
		t.Fatal(err)
	}
	s.bot.SetAPIEndpoint(srv.URL + "/bot%s/%s")

	if err := s.Send(context.Background(), "Settlement failed", "pass 1.2 failed"); err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Fatalf("path = %q", path)
	}
	if mode != "MarkdownV2" || text != "*Settlement failed*\npass 1\\.2 failed" {
		t.Fatalf("mode=%q text=%q", mode, text)
	}
}

func TestTelegramSenderRejectsBadChatID(t *testing.T) {
	if _, err := NewTelegramSender("TOKEN", "@channel"); err == nil {
		t.Fatal("expected error")
	}
}
