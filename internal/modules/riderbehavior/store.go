// README: Rider behavior aggregate store backed by PostgreSQL. Append-only:
// Update accumulates into existing sums, never overwrites or decrements.
package riderbehavior

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ark/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// GetBehaviorStats implements StatsProvider. Returns a zero-value Aggregate
// (CompletedRides=0, so HasOverride()==false) when the rider has no history.
func (s *Store) GetBehaviorStats(ctx context.Context, riderID types.RiderID) (*Aggregate, error) {
	row := s.db.QueryRow(ctx, `
        SELECT rider_id, completed_rides, sum_delay, sum_delay_sq, no_show_count, updated_at
        FROM rider_behavior_aggregates
        WHERE rider_id = $1`, string(riderID),
	)

	var agg Aggregate
	var updatedAt sql.NullTime
	err := row.Scan(&agg.RiderID, &agg.CompletedRides, &agg.SumDelay, &agg.SumDelaySq, &agg.NoShowCount, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Aggregate{RiderID: riderID}, nil
	}
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		agg.UpdatedAt = updatedAt.Time
	}
	return &agg, nil
}

// RecordCompletedRide appends one observed ready-delay sample to the rider's
// aggregate, upserting the row if it doesn't yet exist.
func (s *Store) RecordCompletedRide(ctx context.Context, riderID types.RiderID, delayMinutes float64) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO rider_behavior_aggregates (rider_id, completed_rides, sum_delay, sum_delay_sq, no_show_count, updated_at)
        VALUES ($1, 1, $2, $3, 0, $4)
        ON CONFLICT (rider_id) DO UPDATE SET
            completed_rides = rider_behavior_aggregates.completed_rides + 1,
            sum_delay = rider_behavior_aggregates.sum_delay + EXCLUDED.sum_delay,
            sum_delay_sq = rider_behavior_aggregates.sum_delay_sq + EXCLUDED.sum_delay_sq,
            updated_at = EXCLUDED.updated_at`,
		string(riderID), delayMinutes, delayMinutes*delayMinutes, time.Now(),
	)
	return err
}

// RecordNoShow appends one no-show observation.
func (s *Store) RecordNoShow(ctx context.Context, riderID types.RiderID) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO rider_behavior_aggregates (rider_id, completed_rides, sum_delay, sum_delay_sq, no_show_count, updated_at)
        VALUES ($1, 0, 0, 0, 1, $2)
        ON CONFLICT (rider_id) DO UPDATE SET
            no_show_count = rider_behavior_aggregates.no_show_count + 1,
            updated_at = EXCLUDED.updated_at`,
		string(riderID), time.Now(),
	)
	return err
}
