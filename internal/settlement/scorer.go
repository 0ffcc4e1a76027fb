package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// StatsRecorder receives settled predictions. leaderboard.Aggregator
// implements it.
type StatsRecorder interface {
	RecordResolution(ctx context.Context, agentID string, brier float64) (domain.AgentStats, error)
	RecordCanceled(ctx context.Context, agentID string) (domain.AgentStats, error)
}

// ScoreReport tallies one ScoreMarket or VoidMarket call.
type ScoreReport struct {
	MarketID string `json:"market_id"`
	Scored   int    `json:"scored"`
	Voided   int    `json:"voided"`
	Skipped  int    `json:"skipped"`
	Invalid  int    `json:"invalid"`
	Failed   int    `json:"failed"`
}

// Scorer writes Brier scores for the predictions on a settled market and feeds
// them to the stats aggregator. Every prediction is handled in its own
// transaction so one bad row does not hold back the others.
type Scorer struct {
	predictions domain.PredictionStore
	stats       StatsRecorder
	tx          domain.Transactor
	now         func() time.Time
	logger      *slog.Logger
}

// NewScorer creates a Scorer.
func NewScorer(predictions domain.PredictionStore, stats StatsRecorder, tx domain.Transactor, logger *slog.Logger) *Scorer {
	return &Scorer{
		predictions: predictions,
		stats:       stats,
		tx:          tx,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "scorer")),
	}
}

// ScoreMarket scores every unscored prediction on marketID against the winning
// outcome. Calling it again for the same market scores nothing.
func (s *Scorer) ScoreMarket(ctx context.Context, marketID, winningOutcomeID string) (ScoreReport, error) {
	rep := ScoreReport{MarketID: marketID}

	preds, err := s.predictions.ListPending(ctx, marketID)
	if err != nil {
		return rep, fmt.Errorf("settlement: score market %s: %w", marketID, err)
	}

	var errs []error
	for _, p := range preds {
		brier, err := Brier(p.Probability, p.OutcomeID == winningOutcomeID)
		if err != nil {
			// Voided without a stats update so the row leaves the pending set.
			if _, verr := s.predictions.MarkVoided(ctx, p.ID, s.now()); verr != nil {
				rep.Failed++
				errs = append(errs, fmt.Errorf("prediction %s: %w", p.ID, verr))
				continue
			}
			rep.Invalid++
			s.logger.WarnContext(ctx, "invalid prediction voided",
				slog.String("prediction_id", p.ID),
				slog.Float64("probability", p.Probability),
				slog.String("error", err.Error()),
			)
			continue
		}

		var applied bool
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			ok, err := s.predictions.SetScore(ctx, p.ID, brier, s.now())
			if err != nil || !ok {
				return err
			}
			if _, err := s.stats.RecordResolution(ctx, p.AgentID, brier); err != nil {
				return err
			}
			applied = true
			return nil
		})
		switch {
		case err != nil:
			rep.Failed++
			errs = append(errs, fmt.Errorf("prediction %s: %w", p.ID, err))
			s.logger.ErrorContext(ctx, "score prediction failed",
				slog.String("prediction_id", p.ID),
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		case applied:
			rep.Scored++
		default:
			rep.Skipped++
		}
	}

	s.logger.InfoContext(ctx, "market scored",
		slog.String("market_id", marketID),
		slog.String("winning_outcome_id", winningOutcomeID),
		slog.Int("scored", rep.Scored),
		slog.Int("skipped", rep.Skipped),
		slog.Int("failed", rep.Failed),
	)
	if len(errs) > 0 {
		return rep, fmt.Errorf("settlement: score market %s: %w", marketID, errors.Join(errs...))
	}
	return rep, nil
}

// VoidMarket applies canceled-market accounting to every pending prediction on
// marketID: the prediction is marked voided and the agent's total grows while
// the mean is left alone.
func (s *Scorer) VoidMarket(ctx context.Context, marketID string) (ScoreReport, error) {
	rep := ScoreReport{MarketID: marketID}

	preds, err := s.predictions.ListPending(ctx, marketID)
	if err != nil {
		return rep, fmt.Errorf("settlement: void market %s: %w", marketID, err)
	}

	var errs []error
	for _, p := range preds {
		var applied bool
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			ok, err := s.predictions.MarkVoided(ctx, p.ID, s.now())
			if err != nil || !ok {
				return err
			}
			if _, err := s.stats.RecordCanceled(ctx, p.AgentID); err != nil {
				return err
			}
			applied = true
			return nil
		})
		switch {
		case err != nil:
			rep.Failed++
			errs = append(errs, fmt.Errorf("prediction %s: %w", p.ID, err))
		case applied:
			rep.Voided++
		default:
			rep.Skipped++
		}
	}

	s.logger.InfoContext(ctx, "market voided",
		slog.String("market_id", marketID),
		slog.Int("voided", rep.Voided),
		slog.Int("failed", rep.Failed),
	)
	if len(errs) > 0 {
		return rep, fmt.Errorf("settlement: void market %s: %w", marketID, errors.Join(errs...))
	}
	return rep, nil
}
