// Package types holds identifier aliases shared across every module.
package types

// RiderID identifies a rider. Issued and authenticated by an external
// system; the core never validates it beyond non-emptiness.
type RiderID string

// DriverID identifies a driver / vehicle base. Opaque to the core.
type DriverID string

// SlotID is the canonical key for a TimeSlot: (date, direction, arrivalStart).
type SlotID string

// HoldID identifies a SlotHold.
type HoldID string

// RideID identifies a ScheduledRide.
type RideID string

// AssignmentID identifies a WindowAssignment.
type AssignmentID string

// TimeWindowID identifies an external TimeWindow/ServiceZone pairing.
type TimeWindowID string

// RoutePlanID identifies a RoutingEngine RoutePlan, keyed uniquely by
// (TimeWindowID, service date).
type RoutePlanID string

// JobID identifies a MonteCarloSimulator simulation_jobs row.
type JobID string

// PlanType is the rider's service tier, shared across every module that
// reasons about priority (SlotCatalog capacity, FeasibilityEngine decisions,
// RoutingEngine anchors).
type PlanType string

const (
	PlanPremium  PlanType = "premium"
	PlanStandard PlanType = "standard"
	PlanOffPeak  PlanType = "off_peak"
)

// IsPremium reports whether this tier holds Premium priority.
func (p PlanType) IsPremium() bool {
	return p == PlanPremium
}
