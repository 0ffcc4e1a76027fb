package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// SettledMarketLister lists markets that have been resolved or canceled.
type SettledMarketLister interface {
	ListSettled(ctx context.Context, opts domain.ListOpts) ([]domain.SettledMarket, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets SettledMarketLister
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets SettledMarketLister, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "markets"),
	}
}

type settledMarketJSON struct {
	MarketID          string              `json:"market_id"`
	Title             string              `json:"title"`
	Status            domain.MarketStatus `json:"status"`
	ResolvedOutcomeID *string             `json:"resolved_outcome_id"`
	PredictionCount   int64               `json:"prediction_count"`
	AvgBrier          *float64            `json:"avg_brier"`
	ResolvedAt        *time.Time          `json:"resolved_at"`
}

// ListSettled returns recently settled markets, newest first.
// GET /api/markets/settled?limit=50&offset=0
func (h *MarketHandler) ListSettled(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	settled, err := h.markets.ListSettled(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list settled markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list settled markets")
		return
	}

	out := make([]settledMarketJSON, 0, len(settled))
	for _, m := range settled {
		out = append(out, settledMarketJSON{
			MarketID:          m.MarketID,
			Title:             m.Title,
			Status:            m.Status,
			ResolvedOutcomeID: m.ResolvedOutcomeID,
			PredictionCount:   m.PredictionCount,
			AvgBrier:          m.AvgBrier,
			ResolvedAt:        m.ResolvedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": out,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
