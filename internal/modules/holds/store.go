// README: HoldManager persistence. Store owns slot_holds and writes
// scheduled_rides on confirm. WithHoldLock takes a row lock so concurrent
// confirm/cancel/expire calls on the same hold serialize on commit.
package holds

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ark/internal/modules/schedulestate"
	"ark/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) InsertHold(ctx context.Context, h *Hold) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO slot_holds (hold_id, slot_id, rider_id, plan_type, origin_lat, origin_lng,
                                 dest_lat, dest_lng, created_at, expires_at, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(h.HoldID), string(h.SlotID), string(h.RiderID), string(h.PlanType),
		h.OriginLoc.Lat, h.OriginLoc.Lng, h.DestLoc.Lat, h.DestLoc.Lng,
		h.CreatedAt, h.ExpiresAt, string(h.Status))
	return err
}

// WithHoldLock runs fn with a transaction holding a row lock on holdID. fn's
// returned hold is persisted; nil leaves the row unchanged (used when fn
// itself decides there is nothing to do).
func (s *Store) WithHoldLock(ctx context.Context, holdID types.HoldID, fn func(tx pgx.Tx, h *Hold) (*Hold, error)) (*Hold, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	h, err := scanHold(tx.QueryRow(ctx, `
        SELECT hold_id, slot_id, rider_id, plan_type, origin_lat, origin_lng, dest_lat, dest_lng,
               created_at, expires_at, status
        FROM slot_holds WHERE hold_id = $1 FOR UPDATE`, string(holdID)))
	if err != nil {
		return nil, err
	}

	updated, err := fn(tx, h)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		if _, err := tx.Exec(ctx, `UPDATE slot_holds SET status = $1 WHERE hold_id = $2`,
			string(updated.Status), string(updated.HoldID)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if updated == nil {
		updated = h
	}
	return updated, nil
}

func (s *Store) GetHold(ctx context.Context, holdID types.HoldID) (*Hold, error) {
	return scanHold(s.db.QueryRow(ctx, `
        SELECT hold_id, slot_id, rider_id, plan_type, origin_lat, origin_lng, dest_lat, dest_lng,
               created_at, expires_at, status
        FROM slot_holds WHERE hold_id = $1`, string(holdID)))
}

// CancelActiveHoldForRider cancels riderID's active hold, if any, returning
// it so the caller can release its reserved capacity. Returns (nil, nil)
// when the rider holds nothing.
func (s *Store) CancelActiveHoldForRider(ctx context.Context, riderID types.RiderID) (*Hold, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	h, err := scanHold(tx.QueryRow(ctx, `
        SELECT hold_id, slot_id, rider_id, plan_type, origin_lat, origin_lng, dest_lat, dest_lng,
               created_at, expires_at, status
        FROM slot_holds WHERE rider_id = $1 AND status = 'active' FOR UPDATE`, string(riderID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE slot_holds SET status = $1 WHERE hold_id = $2`,
		string(schedulestate.HoldStatusCancelled), string(h.HoldID)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	h.Status = schedulestate.HoldStatusCancelled
	return h, nil
}

// ListExpired returns every active hold whose expiry has passed asOf.
func (s *Store) ListExpired(ctx context.Context, asOf time.Time) ([]*Hold, error) {
	rows, err := s.db.Query(ctx, `
        SELECT hold_id, slot_id, rider_id, plan_type, origin_lat, origin_lng, dest_lat, dest_lng,
               created_at, expires_at, status
        FROM slot_holds WHERE status = 'active' AND expires_at < $1`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) MarkExpired(ctx context.Context, holdID types.HoldID) error {
	_, err := s.db.Exec(ctx, `UPDATE slot_holds SET status = $1 WHERE hold_id = $2 AND status = 'active'`,
		string(schedulestate.HoldStatusExpired), string(holdID))
	return err
}

func (s *Store) InsertScheduledRide(ctx context.Context, tx pgx.Tx, r *schedulestate.ScheduledRide) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO scheduled_rides (id, rider_id, service_date, slot_id, plan_type, arrival_start, arrival_end,
                                      origin_lat, origin_lng, dest_lat, dest_lng, hold_id, pickup_time,
                                      pickup_window_start, pickup_window_end, predicted_arrival, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		string(r.ID), string(r.RiderID), r.ServiceDate, string(r.SlotID), string(r.PlanType),
		r.ArrivalStart, r.ArrivalEnd, r.OriginLoc.Lat, r.OriginLoc.Lng, r.DestLoc.Lat, r.DestLoc.Lng,
		string(r.HoldID), r.PickupTime, r.PickupWindowStart, r.PickupWindowEnd,
		r.PredictedArrival, string(r.Status))
	return err
}

func scanHold(row interface{ Scan(...any) error }) (*Hold, error) {
	var h Hold
	var holdID, slotID, riderID, planType, status string
	if err := row.Scan(&holdID, &slotID, &riderID, &planType, &h.OriginLoc.Lat, &h.OriginLoc.Lng,
		&h.DestLoc.Lat, &h.DestLoc.Lng, &h.CreatedAt, &h.ExpiresAt, &status); err != nil {
		return nil, err
	}
	h.HoldID = types.HoldID(holdID)
	h.SlotID = types.SlotID(slotID)
	h.RiderID = types.RiderID(riderID)
	h.PlanType = types.PlanType(planType)
	h.Status = schedulestate.HoldStatus(status)
	return &h, nil
}
