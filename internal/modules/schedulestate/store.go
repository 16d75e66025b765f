// README: Read-only queries against tables the holds module writes.
package schedulestate

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ark/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRidesForDate(ctx context.Context, serviceDate time.Time) ([]*ScheduledRide, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, rider_id, service_date, slot_id, plan_type, arrival_start, arrival_end,
               origin_lat, origin_lng, dest_lat, dest_lng, hold_id, pickup_time,
               pickup_window_start, pickup_window_end, predicted_arrival, status
        FROM scheduled_rides WHERE service_date = $1`, serviceDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledRide
	for rows.Next() {
		var r ScheduledRide
		var id, riderID, slotID, planType, status string
		var holdID *string
		var pickupTime, pickupWindowStart, pickupWindowEnd *time.Time
		var predictedArrival *time.Time
		if err := rows.Scan(
			&id, &riderID, &r.ServiceDate, &slotID, &planType, &r.ArrivalStart, &r.ArrivalEnd,
			&r.OriginLoc.Lat, &r.OriginLoc.Lng, &r.DestLoc.Lat, &r.DestLoc.Lng, &holdID, &pickupTime,
			&pickupWindowStart, &pickupWindowEnd, &predictedArrival, &status,
		); err != nil {
			return nil, err
		}
		r.ID = types.RideID(id)
		r.RiderID = types.RiderID(riderID)
		r.SlotID = types.SlotID(slotID)
		r.PlanType = types.PlanType(planType)
		r.Status = RideStatus(status)
		if holdID != nil {
			r.HoldID = types.HoldID(*holdID)
		}
		if pickupTime != nil {
			r.PickupTime = *pickupTime
		}
		if pickupWindowStart != nil {
			r.PickupWindowStart = *pickupWindowStart
		}
		if pickupWindowEnd != nil {
			r.PickupWindowEnd = *pickupWindowEnd
		}
		r.PredictedArrival = predictedArrival
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) GetActiveHoldsForDate(ctx context.Context, serviceDate time.Time) ([]*SlotHold, error) {
	rows, err := s.db.Query(ctx, `
        SELECT h.hold_id, h.slot_id, h.rider_id, h.plan_type, h.created_at, h.expires_at, h.status
        FROM slot_holds h
        JOIN time_slots t ON t.id = h.slot_id
        WHERE t.service_date = $1 AND h.status = 'active'`, serviceDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SlotHold
	for rows.Next() {
		var h SlotHold
		var holdID, slotID, riderID, planType, status string
		if err := rows.Scan(&holdID, &slotID, &riderID, &planType, &h.CreatedAt, &h.ExpiresAt, &status); err != nil {
			return nil, err
		}
		h.HoldID = types.HoldID(holdID)
		h.SlotID = types.SlotID(slotID)
		h.RiderID = types.RiderID(riderID)
		h.PlanType = types.PlanType(planType)
		h.Status = HoldStatus(status)
		out = append(out, &h)
	}
	return out, rows.Err()
}
