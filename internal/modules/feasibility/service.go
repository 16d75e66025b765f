// README: FeasibilityEngine — capacity/peak gates, then a sequential
// block simulation deciding whether a candidate ride can be inserted
// without delaying any Premium ride past its 5-minute-early deadline.
package feasibility

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ark/internal/apperr"
	"ark/internal/geo"
	"ark/internal/modules/driverbase"
	"ark/internal/modules/riderbehavior"
	"ark/internal/modules/schedulestate"
	"ark/internal/modules/slotcatalog"
	"ark/internal/modules/travel"
	"ark/internal/types"
)

const earlyArrivalBufferMinutes = 5

type SlotLookup interface {
	GetSlotByID(ctx context.Context, id types.SlotID) (*slotcatalog.TimeSlot, error)
}

type RideSource interface {
	GetRidesInTimeBlock(ctx context.Context, serviceDate, blockStart, blockEnd time.Time) ([]*schedulestate.ScheduledRide, error)
	GetBlockForTime(serviceDate, t time.Time) (schedulestate.Block, time.Time, time.Time)
}

type BaseSource interface {
	GetBaseForBlock(ctx context.Context, serviceDate time.Time, direction string, fallback geo.Location) (*driverbase.Base, error)
}

type BehaviorSource interface {
	Stats(ctx context.Context, riderID types.RiderID, hourOfDay int) (riderbehavior.Stats, error)
}

type Engine struct {
	slots    SlotLookup
	rides    RideSource
	bases    BaseSource
	behavior BehaviorSource
	travel   *travel.Model
}

func NewEngine(slots SlotLookup, rides RideSource, bases BaseSource, behavior BehaviorSource, travelModel *travel.Model) *Engine {
	return &Engine{slots: slots, rides: rides, bases: bases, behavior: behavior, travel: travelModel}
}

// InsertRequest is canInsertRideIntoSlot's input.
type InsertRequest struct {
	Request
	ServiceDate time.Time
	SlotID      types.SlotID
	Direction   string
}

// CanInsertRideIntoSlot is the engine's main contract.
func (e *Engine) CanInsertRideIntoSlot(ctx context.Context, req InsertRequest) (Decision, error) {
	slot, err := e.slots.GetSlotByID(ctx, req.SlotID)
	if err != nil {
		return Decision{}, err
	}

	if ok, reason := quickCapacityGate(slot, req.PlanType); !ok {
		return Decision{Feasible: false, Reason: reason, RiskLevel: RiskHigh}, nil
	}

	_, blockStart, blockEnd := e.rides.GetBlockForTime(req.ServiceDate, slot.ArrivalStart)

	existing, err := e.rides.GetRidesInTimeBlock(ctx, req.ServiceDate, blockStart, blockEnd)
	if err != nil {
		return Decision{}, err
	}

	outcomes, err := e.simulateBlock(ctx, req.ServiceDate, req.Direction, blockStart, buildSimRides(existing, req.Request, slot))
	if err != nil {
		return Decision{}, err
	}

	return decide(outcomes), nil
}

// QuickFeasibilityCheck does the capacity/peak gate without simulation.
func (e *Engine) QuickFeasibilityCheck(ctx context.Context, slotID types.SlotID, planType types.PlanType) (bool, apperr.Code, error) {
	slot, err := e.slots.GetSlotByID(ctx, slotID)
	if err != nil {
		return false, "", err
	}
	ok, reason := quickCapacityGate(slot, planType)
	return ok, reason, nil
}

// BatchFeasibilityCheck evaluates req against every slot in slotIDs, reusing
// one block load per distinct block.
func (e *Engine) BatchFeasibilityCheck(ctx context.Context, req Request, serviceDate time.Time, direction string, slotIDs []types.SlotID) (map[types.SlotID]Decision, error) {
	out := make(map[types.SlotID]Decision, len(slotIDs))
	blockCache := map[string][]*schedulestate.ScheduledRide{}

	for _, slotID := range slotIDs {
		slot, err := e.slots.GetSlotByID(ctx, slotID)
		if err != nil {
			return nil, err
		}
		if ok, reason := quickCapacityGate(slot, req.PlanType); !ok {
			out[slotID] = Decision{Feasible: false, Reason: reason, RiskLevel: RiskHigh}
			continue
		}

		_, blockStart, blockEnd := e.rides.GetBlockForTime(serviceDate, slot.ArrivalStart)
		cacheKey := fmt.Sprintf("%d-%d", blockStart.Unix(), blockEnd.Unix())
		existing, ok := blockCache[cacheKey]
		if !ok {
			existing, err = e.rides.GetRidesInTimeBlock(ctx, serviceDate, blockStart, blockEnd)
			if err != nil {
				return nil, err
			}
			blockCache[cacheKey] = existing
		}

		outcomes, err := e.simulateBlock(ctx, serviceDate, direction, blockStart, buildSimRides(existing, req, slot))
		if err != nil {
			return nil, err
		}
		out[slotID] = decide(outcomes)
	}
	return out, nil
}

// AnalyzeRideImpact compares each existing ride's punctuality buffer before
// and after inserting the candidate into slot.
func (e *Engine) AnalyzeRideImpact(ctx context.Context, req InsertRequest) ([]RideImpact, error) {
	slot, err := e.slots.GetSlotByID(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	_, blockStart, blockEnd := e.rides.GetBlockForTime(req.ServiceDate, slot.ArrivalStart)
	existing, err := e.rides.GetRidesInTimeBlock(ctx, req.ServiceDate, blockStart, blockEnd)
	if err != nil {
		return nil, err
	}

	baseline, err := e.simulateBlock(ctx, req.ServiceDate, req.Direction, blockStart, buildSimRidesOnly(existing))
	if err != nil {
		return nil, err
	}
	withCandidate, err := e.simulateBlock(ctx, req.ServiceDate, req.Direction, blockStart, buildSimRides(existing, req.Request, slot))
	if err != nil {
		return nil, err
	}

	baselineBuffer := map[types.RideID]float64{}
	for _, o := range baseline {
		baselineBuffer[o.ride.rideID] = o.deadline.Sub(o.arrivalTime).Minutes()
	}

	var impacts []RideImpact
	for _, o := range withCandidate {
		if o.ride.isCandidate {
			continue
		}
		newBuffer := o.deadline.Sub(o.arrivalTime).Minutes()
		current, ok := baselineBuffer[o.ride.rideID]
		if !ok {
			continue
		}
		impacts = append(impacts, RideImpact{
			RideID:        o.ride.rideID,
			CurrentBuffer: current,
			NewBuffer:     newBuffer,
			Impact:        classifyImpact(current, newBuffer),
		})
	}
	return impacts, nil
}

func classifyImpact(current, next float64) Impact {
	delta := next - current
	switch {
	case next < 0:
		return ImpactCritical
	case delta < -2:
		return ImpactNegative
	case delta > 2:
		return ImpactPositive
	default:
		return ImpactNeutral
	}
}

func quickCapacityGate(slot *slotcatalog.TimeSlot, planType types.PlanType) (bool, apperr.Code) {
	isPremium := planType.IsPremium()
	if slot.HasAvailability(isPremium) {
		return true, ""
	}
	if !isPremium && slot.SlotType == slotcatalog.SlotTypePeak {
		return false, apperr.CodePeakClosed
	}
	return false, apperr.CodeNoCapacity
}

func buildSimRides(existing []*schedulestate.ScheduledRide, req Request, slot *slotcatalog.TimeSlot) []simRide {
	rides := buildSimRidesOnly(existing)
	rides = append(rides, toSimRideFromSlot(req, slot))
	return rides
}

func buildSimRidesOnly(existing []*schedulestate.ScheduledRide) []simRide {
	rides := make([]simRide, 0, len(existing))
	for _, r := range existing {
		rides = append(rides, toSimRide(r))
	}
	return rides
}

func sortSimRides(rides []simRide) {
	sort.SliceStable(rides, func(i, j int) bool {
		if !rides[i].arrivalStart.Equal(rides[j].arrivalStart) {
			return rides[i].arrivalStart.Before(rides[j].arrivalStart)
		}
		return rides[i].riderID < rides[j].riderID
	})
}

// simulateBlock walks rides in arrivalStart order from the block's driver
// home base, accumulating travel + readiness delay. Time never rewinds:
// an early arrival at one dropoff does not pull the next pickup earlier.
func (e *Engine) simulateBlock(ctx context.Context, serviceDate time.Time, direction string, blockStart time.Time, rides []simRide) ([]simOutcome, error) {
	sortSimRides(rides)

	base, err := e.bases.GetBaseForBlock(ctx, serviceDate, direction, firstOrigin(rides))
	if err != nil {
		return nil, err
	}

	currentLoc := base.Location
	currentTime := blockStart
	outcomes := make([]simOutcome, 0, len(rides))

	for _, ride := range rides {
		timeCtx := travel.TimeContext{Date: serviceDate, Time: currentTime, DayOfWeek: currentTime.Weekday()}

		toPickup := e.travel.P95(timeCtx, currentLoc, ride.origin)
		currentTime = currentTime.Add(time.Duration(toPickup * float64(time.Minute)))

		behaviorStats, err := e.behavior.Stats(ctx, ride.riderID, currentTime.Hour())
		if err != nil {
			return nil, err
		}
		currentTime = currentTime.Add(time.Duration(behaviorStats.P95ReadyDelay * float64(time.Minute)))

		timeCtx.Time = currentTime
		toDest := e.travel.P95(timeCtx, ride.origin, ride.dest)
		currentTime = currentTime.Add(time.Duration(toDest * float64(time.Minute)))

		deadline := ride.arrivalEnd.Add(-earlyArrivalBufferMinutes * time.Minute)
		outcomes = append(outcomes, simOutcome{
			ride:          ride,
			arrivalTime:   currentTime,
			deadline:      deadline,
			meetsDeadline: !currentTime.After(deadline),
		})
		currentLoc = ride.dest
	}
	return outcomes, nil
}

func firstOrigin(rides []simRide) geo.Location {
	if len(rides) == 0 {
		return geo.Location{}
	}
	return rides[0].origin
}

// decide applies the Premium-priority hierarchy to a simulated block.
func decide(outcomes []simOutcome) Decision {
	var candidate *simOutcome
	for i := range outcomes {
		o := &outcomes[i]
		if o.ride.isCandidate {
			candidate = o
			continue
		}
		if o.ride.planType.IsPremium() && !o.meetsDeadline {
			return Decision{Feasible: false, Reason: apperr.CodeWouldDelayPremium, RiskLevel: RiskHigh}
		}
	}

	if candidate == nil {
		return Decision{Feasible: false, Reason: apperr.CodeInternal, RiskLevel: RiskHigh}
	}
	if !candidate.meetsDeadline {
		return Decision{Feasible: false, Reason: apperr.CodeCandidateLate, RiskLevel: RiskHigh}
	}

	for i := range outcomes {
		o := &outcomes[i]
		if o.ride.isCandidate || o.ride.planType.IsPremium() {
			continue
		}
		if !o.meetsDeadline {
			return Decision{Feasible: false, Reason: apperr.CodeWouldDelayOther, RiskLevel: RiskHigh}
		}
	}

	buffer := candidate.deadline.Sub(candidate.arrivalTime).Minutes()
	return Decision{
		Feasible:         true,
		PredictedArrival: candidate.arrivalTime,
		BufferMinutes:    buffer,
		RiskLevel:        riskFromBuffer(buffer),
	}
}
