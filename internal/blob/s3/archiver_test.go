package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
)

type fakeWriter struct {
	path        string
	contentType string
	body        []byte
	multipart   bool
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.path, w.contentType = path, contentType
	w.body, _ = io.ReadAll(data)
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	w.path, w.multipart = path, true
	w.body, _ = io.ReadAll(data)
	return nil
}

type fakeSnapshots []domain.OddsSnapshot

func (f fakeSnapshots) ListBefore(context.Context, time.Time) ([]domain.OddsSnapshot, error) {
	return f, nil
}

type fakePredictions []domain.Prediction

func (f fakePredictions) ListSettledBefore(context.Context, time.Time) ([]domain.Prediction, error) {
	return f, nil
}

func TestArchiveOddsSnapshots(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	a := NewArchiver(w, fakeSnapshots{
		{ID: 1, EventID: "g1", HomeTeam: "Boston Celtics", AwayTeam: "Miami Heat", HomeProb: 0.6, AwayProb: 0.4, CollectedAt: at},
		{ID: 2, EventID: "g1", HomeTeam: "Boston Celtics", AwayTeam: "Miami Heat", HomeProb: 0.62, AwayProb: 0.38, CollectedAt: at.Add(2 * time.Minute)},
	}, nil)
	a.now = func() time.Time { return time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC) }

	path, n, err := a.ArchiveOddsSnapshots(context.Background(), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	if want := "archive/odds_snapshots/2026-10/20261018T140000Z.jsonl"; path != want || w.path != want {
		t.Fatalf("path = %q (writer %q), want %q", path, w.path, want)
	}
	if w.contentType != jsonlContentType || w.multipart {
		t.Fatalf("unexpected upload mode: %q multipart=%v", w.contentType, w.multipart)
	}

	lines := strings.Split(strings.TrimSpace(string(w.body)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["event_id"] != "g1" || rec["home_prob"] != 0.62 {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestArchiveNothingToDo(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, fakeSnapshots{}, fakePredictions{})

	path, n, err := a.ArchivePredictions(context.Background(), time.Now())
	if err != nil || n != 0 || path != "" {
		t.Fatalf("got (%q, %d, %v)", path, n, err)
	}
	if w.path != "" {
		t.Fatal("nothing should be uploaded")
	}
}

func TestArchivePredictionsKeepsScore(t *testing.T) {
	w := &fakeWriter{}
	score := 0.09
	a := NewArchiver(w, nil, fakePredictions{{ID: "p1", AgentID: "a1", MarketID: "m1", Probability: 0.7, BrierScore: &score}})

	if _, _, err := a.ArchivePredictions(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(w.body, []byte(`"brier_score":0.09`)) {
		t.Fatalf("score missing from %s", w.body)
	}
}
