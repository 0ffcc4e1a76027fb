package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Crime1000x/moltnba/internal/settlement"
)

// SettlementTrigger controls the settlement scheduler.
type SettlementTrigger interface {
	TriggerNow() bool
	Running() bool
	LastReport() (settlement.Report, bool)
}

// SettlementHandler serves settlement control endpoints.
type SettlementHandler struct {
	sched  SettlementTrigger
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(sched SettlementTrigger, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		sched:  sched,
		logger: logHandler(logger, "settlement"),
	}
}

// Trigger starts one settlement pass in the background. A pass that is
// already running is not queued behind; the request gets a 409.
// POST /api/settlement/trigger
func (h *SettlementHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if !h.sched.TriggerNow() {
		writeError(w, http.StatusConflict, "settlement pass already running")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: settlement pass triggered")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status reports whether a pass is running and the last completed report.
// GET /api/settlement/status
func (h *SettlementHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"running": h.sched.Running()}
	if rep, ok := h.sched.LastReport(); ok {
		resp["last_report"] = rep
	}
	writeJSON(w, http.StatusOK, resp)
}
