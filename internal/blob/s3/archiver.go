package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the transfer manager.
	multipartThreshold = 16 * 1024 * 1024
)

// SnapshotSource lists odds snapshots for archiving.
type SnapshotSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.OddsSnapshot, error)
}

// PredictionSource lists settled predictions for archiving.
type PredictionSource interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Prediction, error)
}

// Archiver implements domain.Archiver. It only copies rows; deleting them is
// the caller's job once the upload succeeded.
type Archiver struct {
	writer      domain.BlobWriter
	snapshots   SnapshotSource
	predictions PredictionSource
	now         func() time.Time
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, snapshots SnapshotSource, predictions PredictionSource) *Archiver {
	return &Archiver{
		writer:      writer,
		snapshots:   snapshots,
		predictions: predictions,
		now:         time.Now,
	}
}

// snapshotRecord is the archived JSON shape of an odds snapshot.
type snapshotRecord struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	HomeTeam    string    `json:"home_team"`
	AwayTeam    string    `json:"away_team"`
	HomeProb    float64   `json:"home_prob"`
	AwayProb    float64   `json:"away_prob"`
	Volume      float64   `json:"volume"`
	MarketRef   string    `json:"market_ref"`
	CollectedAt time.Time `json:"collected_at"`
}

// predictionRecord is the archived JSON shape of a settled prediction.
type predictionRecord struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	MarketID    string     `json:"market_id"`
	OutcomeID   string     `json:"outcome_id"`
	Probability float64    `json:"probability"`
	Rationale   string     `json:"rationale,omitempty"`
	BrierScore  *float64   `json:"brier_score"`
	ScoredAt    *time.Time `json:"scored_at,omitempty"`
	VoidedAt    *time.Time `json:"voided_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ArchiveOddsSnapshots uploads every snapshot collected before the cutoff as
// one JSONL object and returns its path and row count.
func (a *Archiver) ArchiveOddsSnapshots(ctx context.Context, before time.Time) (string, int64, error) {
	snaps, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive odds snapshots: %w", err)
	}
	recs := make([]snapshotRecord, len(snaps))
	for i, s := range snaps {
		recs[i] = snapshotRecord(s)
	}
	return archive(ctx, a, "odds_snapshots", before, recs)
}

// ArchivePredictions uploads every prediction settled before the cutoff.
func (a *Archiver) ArchivePredictions(ctx context.Context, before time.Time) (string, int64, error) {
	preds, err := a.predictions.ListSettledBefore(ctx, before)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive predictions: %w", err)
	}
	recs := make([]predictionRecord, len(preds))
	for i, p := range preds {
		recs[i] = predictionRecord{
			ID:          p.ID,
			AgentID:     p.AgentID,
			MarketID:    p.MarketID,
			OutcomeID:   p.OutcomeID,
			Probability: p.Probability,
			Rationale:   p.Rationale,
			BrierScore:  p.BrierScore,
			ScoredAt:    p.ScoredAt,
			VoidedAt:    p.VoidedAt,
			CreatedAt:   p.CreatedAt,
		}
	}
	return archive(ctx, a, "predictions", before, recs)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, recs []T) (string, int64, error) {
	if len(recs) == 0 {
		return "", 0, nil
	}
	buf, err := marshalJSONL(recs)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before, a.now())
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return path, int64(len(recs)), nil
}

// archivePath builds the object key for one archive run, partitioned by the
// cutoff's month:
//
//	archive/odds_snapshots/2026-10/20261018T140000Z.jsonl
func archivePath(kind string, before, now time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, before.UTC().Format("2006-01"), now.UTC().Format("20060102T150405Z"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
