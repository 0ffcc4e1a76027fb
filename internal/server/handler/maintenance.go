package handler

import (
	"context"
	"log/slog"
	"net/http"
)

const defaultRetentionDays = 30

// Cleaner removes settled predictions past their retention window.
type Cleaner interface {
	CleanupSettled(ctx context.Context, days int) (int64, error)
}

// MaintenanceHandler serves housekeeping endpoints.
type MaintenanceHandler struct {
	cleaner Cleaner
	logger  *slog.Logger
}

// NewMaintenanceHandler creates a MaintenanceHandler.
func NewMaintenanceHandler(cleaner Cleaner, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		cleaner: cleaner,
		logger:  logHandler(logger, "maintenance"),
	}
}

// Cleanup deletes settled predictions older than the given number of days.
// POST /api/maintenance/cleanup?days=30
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	days, err := queryPositiveInt(r, "days", defaultRetentionDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.cleaner.CleanupSettled(r.Context(), days)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: cleanup failed",
			slog.Int("days", days),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: cleanup done",
		slog.Int("days", days),
		slog.Int64("deleted", n),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": n,
		"days":    days,
	})
}
