package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/Crime1000x/moltnba/internal/platform/polymarket"
)

// StreamReader exposes the live price stream state.
type StreamReader interface {
	Status() polymarket.StreamStatus
	GetAllCachedPrices() map[string]polymarket.PriceUpdate
}

// StreamHandler serves price stream endpoints. A nil stream means streaming
// is disabled in this process.
type StreamHandler struct {
	stream StreamReader
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(stream StreamReader, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		stream: stream,
		logger: logHandler(logger, "stream"),
	}
}

// Status returns the connection state of the price stream.
// GET /api/stream/status
func (h *StreamHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "price stream disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.stream.Status())
}

// Prices returns every cached price, ordered by asset id.
// GET /api/stream/prices
func (h *StreamHandler) Prices(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "price stream disabled")
		return
	}

	cached := h.stream.GetAllCachedPrices()
	prices := make([]polymarket.PriceUpdate, 0, len(cached))
	for _, p := range cached {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].AssetID < prices[j].AssetID })

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(prices),
		"prices": prices,
	})
}
