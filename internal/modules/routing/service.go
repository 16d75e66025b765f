// README: RoutingEngine — anchor model, best-insertion detour search within
// a configured detour budget, and the transactional plan mutation the
// "row lock per (timeWindowId, serviceDate)" ordering guarantee requires.
package routing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ark/internal/apperr"
	"ark/internal/config"
	"ark/internal/geo"
	"ark/internal/types"
)

const maxAlternatives = 3

type ZoneSource interface {
	GetWindow(ctx context.Context, id types.TimeWindowID) (*TimeWindow, error)
	ListAlternatives(ctx context.Context, excludeID types.TimeWindowID, serviceDate time.Time, limit int) ([]Alternative, error)
}

type AssignmentReader interface {
	GetAssignments(ctx context.Context, ids []types.AssignmentID) (map[types.AssignmentID]*WindowAssignment, error)
	GetAssignment(ctx context.Context, id types.AssignmentID) (*WindowAssignment, error)
}

// PlanLocker is satisfied by *Store; kept as an interface so the read-only
// insertion search (Engine.CanAddRiderToWindow) never needs it.
type PlanLocker interface {
	WithPlanLock(ctx context.Context, windowID types.TimeWindowID, serviceDate time.Time, fn func(tx pgx.Tx, plan *RoutePlan) (*RoutePlan, error)) (*RoutePlan, error)
	InsertAssignment(ctx context.Context, tx pgx.Tx, a *WindowAssignment) error
	UpdateAssignmentStatus(ctx context.Context, tx pgx.Tx, id types.AssignmentID, status AssignmentStatus) error
}

type Engine struct {
	zones       ZoneSource
	assignments AssignmentReader
	plans       PlanLocker
	provider    RoutingProvider
	cfg         config.RoutingConfig
}

func NewEngine(zones ZoneSource, assignments AssignmentReader, plans PlanLocker, provider RoutingProvider, cfg config.RoutingConfig) *Engine {
	return &Engine{zones: zones, assignments: assignments, plans: plans, provider: provider, cfg: cfg}
}

// Rejection is the non-nil-Code branch of canAddRiderToWindow/createWindowAssignment.
type Rejection struct {
	Code         apperr.Code
	Alternatives []Alternative
}

// CanAddRiderToWindow is the read-only best-insertion search: it never
// mutates state, so two concurrent calls may legitimately disagree about
// the best index. createWindowAssignment re-runs this same search under
// the plan's row lock before committing.
func (e *Engine) CanAddRiderToWindow(ctx context.Context, serviceDate time.Time, windowID types.TimeWindowID, pickup geo.Location) (InsertionPlan, *Rejection, error) {
	window, err := e.zones.GetWindow(ctx, windowID)
	if err != nil {
		return InsertionPlan{}, nil, err
	}
	if !window.Active {
		return InsertionPlan{}, &Rejection{Code: apperr.CodeNotFound}, nil
	}

	plan, err := e.readPlan(ctx, windowID, serviceDate)
	if err != nil {
		return InsertionPlan{}, nil, err
	}

	return e.evaluateInsertion(ctx, window, plan, pickup)
}

// readPlan loads the plan's stop sequence without taking a lock, for the
// speculative (non-committing) search.
func (e *Engine) readPlan(ctx context.Context, windowID types.TimeWindowID, serviceDate time.Time) (*RoutePlan, error) {
	store, ok := e.plans.(interface {
		GetPlan(ctx context.Context, windowID types.TimeWindowID, serviceDate time.Time) (*RoutePlan, error)
	})
	if !ok {
		return &RoutePlan{TimeWindowID: windowID, ServiceDate: serviceDate, PlannedDeparture: serviceDate}, nil
	}
	plan, err := store.GetPlan(ctx, windowID, serviceDate)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		plan = &RoutePlan{TimeWindowID: windowID, ServiceDate: serviceDate, PlannedDeparture: serviceDate}
	}
	return plan, nil
}

// evaluateInsertion implements RoutingEngine's anchor/best-insertion contract
// against an already-loaded plan; it is the part re-run under the plan lock.
func (e *Engine) evaluateInsertion(ctx context.Context, window *TimeWindow, plan *RoutePlan, pickup geo.Location) (InsertionPlan, *Rejection, error) {
	confirmedCount := len(plan.OrderedAssignmentIDs)
	if confirmedCount >= window.MaxRiders {
		alts, err := e.zones.ListAlternatives(ctx, window.ID, plan.ServiceDate, maxAlternatives)
		if err != nil {
			return InsertionPlan{}, nil, err
		}
		return InsertionPlan{}, &Rejection{Code: apperr.CodeWindowFull, Alternatives: alts}, nil
	}

	stops, err := e.loadStops(ctx, plan)
	if err != nil {
		return InsertionPlan{}, nil, err
	}
	if window.MaxRidersPerTrip > 0 && len(stops) >= window.MaxRidersPerTrip {
		return InsertionPlan{}, &Rejection{Code: apperr.CodeTripFull}, nil
	}

	if len(stops) == 0 {
		return e.evaluateAsAnchor(ctx, window, pickup)
	}

	if window.MaxAnchorDistanceMeters != nil {
		if geo.HaversineMeters(pickup, stops[0].pickup) > *window.MaxAnchorDistanceMeters {
			return InsertionPlan{}, &Rejection{Code: apperr.CodeTooFarFromAnchor}, nil
		}
	}

	maxDetour := window.MaxDetourSeconds
	if maxDetour <= 0 {
		maxDetour = e.cfg.MaxDetourSeconds
	}

	bestIndex := -1
	bestExtra := maxDetour + 1
	for i := 1; i <= len(stops); i++ {
		from := stops[i-1].pickup
		to := window.Campus
		if i < len(stops) {
			to = stops[i].pickup
		}

		direct, err := e.provider.GetDirections(ctx, from, to, nil, window.StartPickupTime)
		if err != nil {
			return InsertionPlan{}, nil, err
		}
		detour, err := e.provider.GetDirections(ctx, from, to, []geo.Location{pickup}, window.StartPickupTime)
		if err != nil {
			return InsertionPlan{}, nil, err
		}

		extra := detour.DurationSeconds - direct.DurationSeconds
		if extra < 0 {
			extra = 0
		}
		if extra <= maxDetour && extra < bestExtra {
			bestExtra = extra
			bestIndex = i
		}
	}

	if bestIndex < 0 {
		alts, err := e.zones.ListAlternatives(ctx, window.ID, plan.ServiceDate, maxAlternatives)
		if err != nil {
			return InsertionPlan{}, nil, err
		}
		return InsertionPlan{}, &Rejection{Code: apperr.CodeDetourTooLarge, Alternatives: alts}, nil
	}

	newTotal := plan.BaseDurationSeconds + bestExtra
	estimatedArrival := plan.PlannedDeparture.Add(time.Duration(newTotal) * time.Second)
	targetDeadline := window.CampusTargetTime.Add(time.Duration(e.cfg.TargetTimeBufferMins) * time.Minute)
	if estimatedArrival.After(targetDeadline) {
		return InsertionPlan{}, &Rejection{Code: apperr.CodeCannotMeetTargetTime}, nil
	}

	estimatedPickup, err := e.estimatePickupTime(ctx, plan, stops, bestIndex, window.StartPickupTime, pickup)
	if err != nil {
		return InsertionPlan{}, nil, err
	}

	return InsertionPlan{
		Index:                bestIndex,
		ExtraSeconds:         bestExtra,
		EstimatedArrivalTime: estimatedArrival,
		EstimatedPickupTime:  estimatedPickup,
		NewTotalSeconds:      newTotal,
	}, nil, nil
}

func (e *Engine) evaluateAsAnchor(ctx context.Context, window *TimeWindow, pickup geo.Location) (InsertionPlan, *Rejection, error) {
	direct, err := e.provider.GetDirections(ctx, pickup, window.Campus, nil, window.StartPickupTime)
	if err != nil {
		return InsertionPlan{}, nil, err
	}

	estimatedArrival := window.StartPickupTime.Add(time.Duration(direct.DurationSeconds) * time.Second)
	targetDeadline := window.CampusTargetTime.Add(time.Duration(e.cfg.TargetTimeBufferMins) * time.Minute)
	if estimatedArrival.After(targetDeadline) {
		return InsertionPlan{}, &Rejection{Code: apperr.CodeCannotMeetTargetTime}, nil
	}

	return InsertionPlan{
		Index:                0,
		ExtraSeconds:         0,
		EstimatedArrivalTime: estimatedArrival,
		EstimatedPickupTime:  window.StartPickupTime,
		NewTotalSeconds:      direct.DurationSeconds,
	}, nil, nil
}

// estimatePickupTime approximates the clock time the driver reaches the new
// stop: elapsed direct-leg time through the existing sequence up to the
// insertion point, plus the direct leg from there to the new pickup.
func (e *Engine) estimatePickupTime(ctx context.Context, plan *RoutePlan, stops []stop, index int, departAt time.Time, pickup geo.Location) (time.Time, error) {
	elapsed := 0
	for k := 0; k < index-1; k++ {
		leg, err := e.provider.GetDirections(ctx, stops[k].pickup, stops[k+1].pickup, nil, departAt)
		if err != nil {
			return time.Time{}, err
		}
		elapsed += leg.DurationSeconds
	}
	toNew, err := e.provider.GetDirections(ctx, stops[index-1].pickup, pickup, nil, departAt)
	if err != nil {
		return time.Time{}, err
	}
	elapsed += toNew.DurationSeconds
	return departAt.Add(time.Duration(elapsed) * time.Second), nil
}

func (e *Engine) loadStops(ctx context.Context, plan *RoutePlan) ([]stop, error) {
	if len(plan.OrderedAssignmentIDs) == 0 {
		return nil, nil
	}
	byID, err := e.assignments.GetAssignments(ctx, plan.OrderedAssignmentIDs)
	if err != nil {
		return nil, err
	}
	stops := make([]stop, 0, len(plan.OrderedAssignmentIDs))
	for _, id := range plan.OrderedAssignmentIDs {
		a, ok := byID[id]
		if !ok {
			continue
		}
		stops = append(stops, stop{assignmentID: id, pickup: a.PickupLoc})
	}
	return stops, nil
}

// CreateWindowAssignment re-verifies the insertion under the plan's row
// lock and commits the new assignment plus the recomputed route.
func (e *Engine) CreateWindowAssignment(ctx context.Context, riderID types.RiderID, serviceDate time.Time, windowID types.TimeWindowID, pickup geo.Location) (*WindowAssignment, *Rejection, error) {
	window, err := e.zones.GetWindow(ctx, windowID)
	if err != nil {
		return nil, nil, err
	}

	var created *WindowAssignment
	var rejection *Rejection

	_, err = e.plans.WithPlanLock(ctx, windowID, serviceDate, func(tx pgx.Tx, plan *RoutePlan) (*RoutePlan, error) {
		ins, rej, err := e.evaluateInsertion(ctx, window, plan, pickup)
		if err != nil {
			return nil, err
		}
		if rej != nil {
			rejection = rej
			return plan, nil
		}

		stops, err := e.loadStops(ctx, plan)
		if err != nil {
			return nil, err
		}

		a := &WindowAssignment{
			ID:               types.AssignmentID(uuid.NewString()),
			RiderID:          riderID,
			TimeWindowID:     windowID,
			ServiceDate:      serviceDate,
			PickupLoc:        pickup,
			Status:           AssignmentConfirmed,
			EstimatedPickup:  ins.EstimatedPickupTime,
			EstimatedArrival: ins.EstimatedArrivalTime,
		}
		if err := e.plans.InsertAssignment(ctx, tx, a); err != nil {
			return nil, err
		}
		created = a

		newOrdered := make([]types.AssignmentID, 0, len(stops)+1)
		newOrdered = append(newOrdered, plan.OrderedAssignmentIDs[:ins.Index]...)
		newOrdered = append(newOrdered, a.ID)
		newOrdered = append(newOrdered, plan.OrderedAssignmentIDs[ins.Index:]...)
		plan.OrderedAssignmentIDs = newOrdered

		if plan.AnchorAssignmentID == nil {
			plan.AnchorAssignmentID = &a.ID
			plan.PlannedDeparture = window.StartPickupTime
		}

		route, err := e.recomputeRoute(ctx, window, append(stops[:ins.Index:ins.Index], append([]stop{{assignmentID: a.ID, pickup: pickup}}, stops[ins.Index:]...)...), plan.PlannedDeparture)
		if err != nil {
			return nil, err
		}
		plan.Polyline = route.Polyline
		plan.BaseDurationSeconds = route.DurationSeconds
		plan.TotalDistanceMeters = route.DistanceMeters

		return plan, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if rejection != nil {
		return nil, rejection, nil
	}
	return created, nil, nil
}

// CancelWindowAssignment removes id from its plan, promoting a new anchor
// if id was the anchor, and clears route fields if the plan becomes empty.
func (e *Engine) CancelWindowAssignment(ctx context.Context, id types.AssignmentID) error {
	a, err := e.assignments.GetAssignment(ctx, id)
	if err != nil {
		return err
	}

	window, err := e.zones.GetWindow(ctx, a.TimeWindowID)
	if err != nil {
		return err
	}

	_, err = e.plans.WithPlanLock(ctx, a.TimeWindowID, a.ServiceDate, func(tx pgx.Tx, plan *RoutePlan) (*RoutePlan, error) {
		if err := e.plans.UpdateAssignmentStatus(ctx, tx, id, AssignmentCancelled); err != nil {
			return nil, err
		}

		remaining := make([]types.AssignmentID, 0, len(plan.OrderedAssignmentIDs))
		for _, existing := range plan.OrderedAssignmentIDs {
			if existing != id {
				remaining = append(remaining, existing)
			}
		}
		plan.OrderedAssignmentIDs = remaining

		if plan.AnchorAssignmentID != nil && *plan.AnchorAssignmentID == id {
			if len(remaining) > 0 {
				plan.AnchorAssignmentID = &remaining[0]
			} else {
				plan.AnchorAssignmentID = nil
			}
		}

		if len(remaining) == 0 {
			plan.Polyline = ""
			plan.BaseDurationSeconds = 0
			plan.TotalDistanceMeters = 0
			return plan, nil
		}

		stops, err := e.loadStops(ctx, plan)
		if err != nil {
			return nil, err
		}
		route, err := e.recomputeRoute(ctx, window, stops, plan.PlannedDeparture)
		if err != nil {
			return nil, err
		}
		plan.Polyline = route.Polyline
		plan.BaseDurationSeconds = route.DurationSeconds
		plan.TotalDistanceMeters = route.DistanceMeters
		return plan, nil
	})
	return err
}

func (e *Engine) recomputeRoute(ctx context.Context, window *TimeWindow, stops []stop, departAt time.Time) (RouteEstimate, error) {
	if len(stops) == 0 {
		return RouteEstimate{}, nil
	}
	waypoints := make([]geo.Location, 0, len(stops)-1)
	for _, s := range stops[1:] {
		waypoints = append(waypoints, s.pickup)
	}
	return e.provider.GetDirections(ctx, stops[0].pickup, window.Campus, waypoints, departAt)
}

// GetAlternativeWindows returns up to three other active windows with seats
// available on serviceDate, for surfacing alongside a WINDOW_FULL or
// DETOUR_TOO_LARGE rejection. Windows are not matched by type or time of day.
func (e *Engine) GetAlternativeWindows(ctx context.Context, excludeID types.TimeWindowID, serviceDate time.Time) ([]Alternative, error) {
	return e.zones.ListAlternatives(ctx, excludeID, serviceDate, maxAlternatives)
}
