// README: RoutingEngine persistence. PlanStore owns route_plans and
// window_assignments; ZoneStore is a read-only view over externally-seeded
// time_windows. Plan mutation takes a row lock via "FOR UPDATE" so two
// concurrent createWindowAssignment/cancelWindowAssignment calls on the same
// plan serialize on commit instead of racing silently; canAddRiderToWindow
// reads the plan without the lock.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ark/internal/apperr"
	"ark/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// GetPlan reads the current plan without a lock, for the speculative
// (non-committing) best-insertion search. Returns (nil, nil) if no plan
// row exists yet.
func (s *Store) GetPlan(ctx context.Context, windowID types.TimeWindowID, serviceDate time.Time) (*RoutePlan, error) {
	plan, err := scanPlanRow(s.db.QueryRow(ctx, `
        SELECT id, time_window_id, service_date, planned_departure, ordered_assignment_ids,
               anchor_assignment_id, polyline, base_duration_seconds, total_distance_meters
        FROM route_plans WHERE time_window_id = $1 AND service_date = $2`,
		string(windowID), serviceDate))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// WithPlanLock runs fn with a transaction holding a row lock on the
// (timeWindowID, serviceDate) plan, creating an empty plan row first if
// none exists. fn's returned plan is persisted.
func (s *Store) WithPlanLock(ctx context.Context, windowID types.TimeWindowID, serviceDate time.Time, fn func(tx pgx.Tx, plan *RoutePlan) (*RoutePlan, error)) (*RoutePlan, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	plan, err := lockOrCreatePlan(ctx, tx, windowID, serviceDate)
	if err != nil {
		return nil, err
	}

	updated, err := fn(tx, plan)
	if err != nil {
		return nil, err
	}

	if err := savePlan(ctx, tx, updated); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func lockOrCreatePlan(ctx context.Context, tx pgx.Tx, windowID types.TimeWindowID, serviceDate time.Time) (*RoutePlan, error) {
	plan, err := scanPlanRow(tx.QueryRow(ctx, `
        SELECT id, time_window_id, service_date, planned_departure, ordered_assignment_ids,
               anchor_assignment_id, polyline, base_duration_seconds, total_distance_meters
        FROM route_plans WHERE time_window_id = $1 AND service_date = $2 FOR UPDATE`,
		string(windowID), serviceDate))
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	id := string(windowID) + ":" + serviceDate.Format("2006-01-02")
	_, err = tx.Exec(ctx, `
        INSERT INTO route_plans (id, time_window_id, service_date, planned_departure, ordered_assignment_ids)
        VALUES ($1, $2, $3, $3, ARRAY[]::TEXT[])
        ON CONFLICT (time_window_id, service_date) DO NOTHING`,
		id, string(windowID), serviceDate)
	if err != nil {
		return nil, err
	}

	return scanPlanRow(tx.QueryRow(ctx, `
        SELECT id, time_window_id, service_date, planned_departure, ordered_assignment_ids,
               anchor_assignment_id, polyline, base_duration_seconds, total_distance_meters
        FROM route_plans WHERE time_window_id = $1 AND service_date = $2 FOR UPDATE`,
		string(windowID), serviceDate))
}

func scanPlanRow(row pgx.Row) (*RoutePlan, error) {
	var p RoutePlan
	var id, windowID string
	var orderedIDs []string
	var anchorID *string
	var polyline *string
	var baseDuration, totalDistance *int
	if err := row.Scan(&id, &windowID, &p.ServiceDate, &p.PlannedDeparture, &orderedIDs,
		&anchorID, &polyline, &baseDuration, &totalDistance); err != nil {
		return nil, err
	}
	p.ID = types.RoutePlanID(id)
	p.TimeWindowID = types.TimeWindowID(windowID)
	p.OrderedAssignmentIDs = make([]types.AssignmentID, len(orderedIDs))
	for i, a := range orderedIDs {
		p.OrderedAssignmentIDs[i] = types.AssignmentID(a)
	}
	if anchorID != nil {
		a := types.AssignmentID(*anchorID)
		p.AnchorAssignmentID = &a
	}
	if polyline != nil {
		p.Polyline = *polyline
	}
	if baseDuration != nil {
		p.BaseDurationSeconds = *baseDuration
	}
	if totalDistance != nil {
		p.TotalDistanceMeters = *totalDistance
	}
	return &p, nil
}

func savePlan(ctx context.Context, tx pgx.Tx, plan *RoutePlan) error {
	orderedIDs := make([]string, len(plan.OrderedAssignmentIDs))
	for i, a := range plan.OrderedAssignmentIDs {
		orderedIDs[i] = string(a)
	}
	var anchorID *string
	if plan.AnchorAssignmentID != nil {
		v := string(*plan.AnchorAssignmentID)
		anchorID = &v
	}
	var polyline *string
	if plan.Polyline != "" {
		polyline = &plan.Polyline
	}

	_, err := tx.Exec(ctx, `
        UPDATE route_plans
        SET planned_departure = $1, ordered_assignment_ids = $2, anchor_assignment_id = $3,
            polyline = $4, base_duration_seconds = $5, total_distance_meters = $6
        WHERE id = $7`,
		plan.PlannedDeparture, orderedIDs, anchorID, polyline,
		nullIfZero(plan.BaseDurationSeconds), nullIfZero(plan.TotalDistanceMeters), string(plan.ID))
	return err
}

func nullIfZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func (s *Store) InsertAssignment(ctx context.Context, tx pgx.Tx, a *WindowAssignment) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO window_assignments (id, rider_id, time_window_id, service_date, pickup_lat, pickup_lng,
                                         status, estimated_pickup, estimated_arrival)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(a.ID), string(a.RiderID), string(a.TimeWindowID), a.ServiceDate,
		a.PickupLoc.Lat, a.PickupLoc.Lng, string(a.Status), a.EstimatedPickup, a.EstimatedArrival)
	return err
}

func (s *Store) UpdateAssignmentStatus(ctx context.Context, tx pgx.Tx, id types.AssignmentID, status AssignmentStatus) error {
	_, err := tx.Exec(ctx, `UPDATE window_assignments SET status = $1 WHERE id = $2`, string(status), string(id))
	return err
}

func (s *Store) GetAssignment(ctx context.Context, id types.AssignmentID) (*WindowAssignment, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, rider_id, time_window_id, service_date, pickup_lat, pickup_lng, status, estimated_pickup, estimated_arrival
        FROM window_assignments WHERE id = $1`, string(id))
	return scanAssignment(row)
}

func (s *Store) GetAssignments(ctx context.Context, ids []types.AssignmentID) (map[types.AssignmentID]*WindowAssignment, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
        SELECT id, rider_id, time_window_id, service_date, pickup_lat, pickup_lng, status, estimated_pickup, estimated_arrival
        FROM window_assignments WHERE id = ANY($1)`, strIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[types.AssignmentID]*WindowAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func scanAssignment(row interface{ Scan(...any) error }) (*WindowAssignment, error) {
	var a WindowAssignment
	var id, riderID, windowID, status string
	if err := row.Scan(&id, &riderID, &windowID, &a.ServiceDate, &a.PickupLoc.Lat, &a.PickupLoc.Lng,
		&status, &a.EstimatedPickup, &a.EstimatedArrival); err != nil {
		return nil, err
	}
	a.ID = types.AssignmentID(id)
	a.RiderID = types.RiderID(riderID)
	a.TimeWindowID = types.TimeWindowID(windowID)
	a.Status = AssignmentStatus(status)
	return &a, nil
}

// ZoneStore reads externally-seeded TimeWindow/ServiceZone configuration.
// The core never writes these rows.
type ZoneStore struct {
	db *pgxpool.Pool
}

func NewZoneStore(db *pgxpool.Pool) *ZoneStore {
	return &ZoneStore{db: db}
}

func (z *ZoneStore) GetWindow(ctx context.Context, id types.TimeWindowID) (*TimeWindow, error) {
	row := z.db.QueryRow(ctx, `
        SELECT id, campus_lat, campus_lng, campus_target_time, start_pickup_time,
               max_riders, max_riders_per_trip, max_detour_seconds, max_anchor_distance_meters, active
        FROM time_windows WHERE id = $1`, string(id))

	var w TimeWindow
	var windowID string
	var maxAnchorDist *float64
	if err := row.Scan(&windowID, &w.Campus.Lat, &w.Campus.Lng, &w.CampusTargetTime, &w.StartPickupTime,
		&w.MaxRiders, &w.MaxRidersPerTrip, &w.MaxDetourSeconds, &maxAnchorDist, &w.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.CodeNotFound, "time window not found", nil)
		}
		return nil, err
	}
	w.ID = types.TimeWindowID(windowID)
	w.MaxAnchorDistanceMeters = maxAnchorDist
	return &w, nil
}

// ListAlternatives returns up to limit other active windows that still have
// seats on serviceDate (max_riders minus that date's CONFIRMED assignments),
// earliest start_pickup_time first. Windows are not filtered by type or by
// time of day.
func (z *ZoneStore) ListAlternatives(ctx context.Context, excludeID types.TimeWindowID, serviceDate time.Time, limit int) ([]Alternative, error) {
	rows, err := z.db.Query(ctx, `
        SELECT tw.id, tw.start_pickup_time, tw.max_riders - COALESCE(wa.confirmed, 0) AS seats
        FROM time_windows tw
        LEFT JOIN (
            SELECT time_window_id, COUNT(*) AS confirmed
            FROM window_assignments
            WHERE service_date = $2 AND status = 'CONFIRMED'
            GROUP BY time_window_id
        ) wa ON wa.time_window_id = tw.id
        WHERE tw.active AND tw.id != $1
          AND (tw.max_riders - COALESCE(wa.confirmed, 0)) > 0
        ORDER BY tw.start_pickup_time ASC
        LIMIT $3`, string(excludeID), serviceDate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alternative
	for rows.Next() {
		var a Alternative
		var id string
		if err := rows.Scan(&id, &a.StartPickupTime, &a.SeatsAvailable); err != nil {
			return nil, err
		}
		a.TimeWindowID = types.TimeWindowID(id)
		out = append(out, a)
	}
	return out, rows.Err()
}
