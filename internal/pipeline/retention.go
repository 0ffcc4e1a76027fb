package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// Retention removes settled predictions past their retention window, copying
// them to cold storage first when an archiver is configured.
type Retention struct {
	predictions domain.PredictionStore
	archiver    domain.Archiver
	now         func() time.Time
	logger      *slog.Logger
}

// NewRetention creates a Retention. archiver may be nil.
func NewRetention(predictions domain.PredictionStore, archiver domain.Archiver, logger *slog.Logger) *Retention {
	return &Retention{
		predictions: predictions,
		archiver:    archiver,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "retention")),
	}
}

// CleanupSettled deletes predictions scored or voided more than days ago and
// returns the number removed.
func (r *Retention) CleanupSettled(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("pipeline: cleanup: days must be positive, got %d", days)
	}
	cutoff := r.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	r.logger.InfoContext(ctx, "starting cleanup run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", days),
	)

	if r.archiver != nil {
		path, n, err := r.archiver.ArchivePredictions(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pipeline: archive predictions before %v: %w", cutoff, err)
		}
		if n > 0 {
			r.logger.InfoContext(ctx, "archived predictions", slog.String("path", path), slog.Int64("count", n))
		}
	}

	deleted, err := r.predictions.DeleteSettledBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: delete predictions before %v: %w", cutoff, err)
	}
	r.logger.InfoContext(ctx, "cleanup run complete", slog.Int64("deleted", deleted))
	return deleted, nil
}
