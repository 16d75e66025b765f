// README: FeasibilityEngine domain types — the insertion request, its
// block-simulation outcome, and the per-ride impact analysis.
package feasibility

import (
	"time"

	"ark/internal/apperr"
	"ark/internal/geo"
	"ark/internal/modules/schedulestate"
	"ark/internal/modules/slotcatalog"
	"ark/internal/types"
)

// Request describes a candidate ride to test for insertion into a slot.
type Request struct {
	RiderID   types.RiderID
	PlanType  types.PlanType
	OriginLoc geo.Location
	DestLoc   geo.Location
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func riskFromBuffer(bufferMinutes float64) RiskLevel {
	switch {
	case bufferMinutes >= 10:
		return RiskLow
	case bufferMinutes >= 5:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Decision is canInsertRideIntoSlot's result. Feasible implies
// Reason == "". Infeasible implies PredictedArrival is the zero time.
type Decision struct {
	Feasible         bool
	PredictedArrival time.Time
	BufferMinutes    float64
	RiskLevel        RiskLevel
	Reason           apperr.Code
}

// Impact classifies how inserting the candidate changes one existing ride's
// punctuality buffer.
type Impact string

const (
	ImpactPositive Impact = "positive"
	ImpactNeutral  Impact = "neutral"
	ImpactNegative Impact = "negative"
	ImpactCritical Impact = "critical"
)

// RideImpact is analyzeRideImpact's per-ride result.
type RideImpact struct {
	RideID       types.RideID
	CurrentBuffer float64
	NewBuffer     float64
	Impact        Impact
}

// simRide is one entry in the block simulation, either an existing
// ScheduledRide or the synthetic candidate.
type simRide struct {
	rideID       types.RideID
	riderID      types.RiderID
	planType     types.PlanType
	arrivalStart time.Time
	arrivalEnd   time.Time
	origin       geo.Location
	dest         geo.Location
	isCandidate  bool
}

// simOutcome is one simRide's simulated arrival.
type simOutcome struct {
	ride          simRide
	arrivalTime   time.Time
	deadline      time.Time
	meetsDeadline bool
}

func toSimRide(r *schedulestate.ScheduledRide) simRide {
	return simRide{
		rideID:       r.ID,
		riderID:      r.RiderID,
		planType:     r.PlanType,
		arrivalStart: r.ArrivalStart,
		arrivalEnd:   r.ArrivalEnd,
		origin:       geo.Location{Lat: r.OriginLoc.Lat, Lng: r.OriginLoc.Lng},
		dest:         geo.Location{Lat: r.DestLoc.Lat, Lng: r.DestLoc.Lng},
	}
}

func toSimRideFromSlot(req Request, slot *slotcatalog.TimeSlot) simRide {
	return simRide{
		riderID:      req.RiderID,
		planType:     req.PlanType,
		arrivalStart: slot.ArrivalStart,
		arrivalEnd:   slot.ArrivalEnd,
		origin:       req.OriginLoc,
		dest:         req.DestLoc,
		isCandidate:  true,
	}
}
