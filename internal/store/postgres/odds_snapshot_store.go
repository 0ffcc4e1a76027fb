package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// OddsSnapshotStore implements domain.OddsSnapshotStore using PostgreSQL.
type OddsSnapshotStore struct {
	pool *pgxpool.Pool
}

var _ domain.OddsSnapshotStore = (*OddsSnapshotStore)(nil)

// NewOddsSnapshotStore creates a new OddsSnapshotStore backed by the given pool.
func NewOddsSnapshotStore(pool *pgxpool.Pool) *OddsSnapshotStore {
	return &OddsSnapshotStore{pool: pool}
}

const oddsSnapshotCols = `id, event_id, home_team, away_team, home_prob, away_prob,
	volume, market_ref, collected_at`

func scanOddsSnapshotRows(rows pgx.Rows) ([]domain.OddsSnapshot, error) {
	defer rows.Close()
	var snaps []domain.OddsSnapshot
	for rows.Next() {
		var o domain.OddsSnapshot
		if err := rows.Scan(
			&o.ID, &o.EventID, &o.HomeTeam, &o.AwayTeam, &o.HomeProb, &o.AwayProb,
			&o.Volume, &o.MarketRef, &o.CollectedAt,
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, o)
	}
	return snaps, rows.Err()
}

// Insert stores a snapshot with collected_at truncated to the minute. A
// duplicate (event, minute) is skipped via ON CONFLICT DO NOTHING and reported
// as false.
func (s *OddsSnapshotStore) Insert(ctx context.Context, snap domain.OddsSnapshot) (bool, error) {
	const query = `
		INSERT INTO odds_snapshots (
			event_id, home_team, away_team, home_prob, away_prob,
			volume, market_ref, collected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id, collected_at) DO NOTHING`

	tag, err := conn(ctx, s.pool).Exec(ctx, query,
		snap.EventID, snap.HomeTeam, snap.AwayTeam, snap.HomeProb, snap.AwayProb,
		snap.Volume, snap.MarketRef, snap.CollectedAt.UTC().Truncate(time.Minute),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert odds snapshot %s: %w", snap.EventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByEvent returns the snapshots of an event collected since the given
// time, oldest first.
func (s *OddsSnapshotStore) ListByEvent(ctx context.Context, eventID string, since time.Time) ([]domain.OddsSnapshot, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+oddsSnapshotCols+` FROM odds_snapshots
		 WHERE event_id = $1 AND collected_at >= $2
		 ORDER BY collected_at ASC`, eventID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list odds snapshots %s: %w", eventID, err)
	}
	snaps, err := scanOddsSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan odds snapshots %s: %w", eventID, err)
	}
	return snaps, nil
}

// ListBefore returns every snapshot collected before the given time.
func (s *OddsSnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OddsSnapshot, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+oddsSnapshotCols+` FROM odds_snapshots
		 WHERE collected_at < $1 ORDER BY collected_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list odds snapshots before %s: %w", before.Format(time.RFC3339), err)
	}
	snaps, err := scanOddsSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan odds snapshots: %w", err)
	}
	return snaps, nil
}

// DeleteBefore removes snapshots collected before the given time.
func (s *OddsSnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM odds_snapshots WHERE collected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete odds snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
