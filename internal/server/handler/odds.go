package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/pipeline"
)

const (
	defaultPruneHours   = 24
	defaultHistoryHours = 24
)

// OddsService is the odds collector as seen by the HTTP layer.
type OddsService interface {
	CollectAllActive(ctx context.Context) (pipeline.CollectReport, error)
	PruneOlderThan(ctx context.Context, retentionHours int) (int64, error)
	History(ctx context.Context, eventID string, hoursBack int) ([]domain.OddsSnapshot, error)
}

// OddsHandler serves odds collection and history endpoints.
type OddsHandler struct {
	odds   OddsService
	logger *slog.Logger
}

// NewOddsHandler creates an OddsHandler.
func NewOddsHandler(odds OddsService, logger *slog.Logger) *OddsHandler {
	return &OddsHandler{
		odds:   odds,
		logger: logHandler(logger, "odds"),
	}
}

type oddsSnapshotJSON struct {
	EventID     string    `json:"event_id"`
	HomeTeam    string    `json:"home_team"`
	AwayTeam    string    `json:"away_team"`
	HomeProb    float64   `json:"home_prob"`
	AwayProb    float64   `json:"away_prob"`
	Volume      float64   `json:"volume"`
	MarketRef   string    `json:"market_ref"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collect runs one collection synchronously and returns its report.
// POST /api/odds/collect
func (h *OddsHandler) Collect(w http.ResponseWriter, r *http.Request) {
	rep, err := h.odds.CollectAllActive(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			writeError(w, http.StatusConflict, "odds collection already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: odds collection failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "odds collection failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Prune deletes snapshots older than the given number of hours.
// POST /api/odds/prune?hours=24
func (h *OddsHandler) Prune(w http.ResponseWriter, r *http.Request) {
	hours, err := queryPositiveInt(r, "hours", defaultPruneHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.odds.PruneOlderThan(r.Context(), hours)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: odds prune failed",
			slog.Int("hours", hours),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "odds prune failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": n,
		"hours":   hours,
	})
}

// History returns the snapshots of one event, oldest first.
// GET /api/odds/{eventID}/history?hours=24
func (h *OddsHandler) History(w http.ResponseWriter, r *http.Request) {
	eventID := pathParam(r, "eventID")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}
	hours, err := queryPositiveInt(r, "hours", defaultHistoryHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snaps, err := h.odds.History(r.Context(), eventID, hours)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: odds history failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load odds history")
		return
	}

	out := make([]oddsSnapshotJSON, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, oddsSnapshotJSON{
			EventID:     s.EventID,
			HomeTeam:    s.HomeTeam,
			AwayTeam:    s.AwayTeam,
			HomeProb:    s.HomeProb,
			AwayProb:    s.AwayProb,
			Volume:      s.Volume,
			MarketRef:   s.MarketRef,
			CollectedAt: s.CollectedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":  eventID,
		"hours":     hours,
		"snapshots": out,
	})
}
