// README: RoutingEngine domain types — the per-window multi-stop RoutePlan,
// the WindowAssignment analog of a ScheduledRide, and the external
// TimeWindow/ServiceZone data the engine reads but never writes.
package routing

import (
	"time"

	"ark/internal/geo"
	"ark/internal/types"
)

// AssignmentStatus is a WindowAssignment's lifecycle state.
type AssignmentStatus string

const (
	AssignmentConfirmed  AssignmentStatus = "CONFIRMED"
	AssignmentWaitlisted AssignmentStatus = "WAITLISTED"
	AssignmentRejected   AssignmentStatus = "REJECTED"
	AssignmentCancelled  AssignmentStatus = "CANCELLED"
)

// WindowAssignment is the routing-engine analog of a ScheduledRide when
// operating in shared-route mode.
type WindowAssignment struct {
	ID               types.AssignmentID
	RiderID          types.RiderID
	TimeWindowID     types.TimeWindowID
	ServiceDate      time.Time
	PickupLoc        geo.Location
	Status           AssignmentStatus
	EstimatedPickup  time.Time
	EstimatedArrival time.Time
}

// RoutePlan is the ordered multi-stop trip for one (TimeWindowID, ServiceDate).
// Invariant: AnchorAssignmentID, if set, is OrderedAssignmentIDs[0].
type RoutePlan struct {
	ID                  types.RoutePlanID
	TimeWindowID        types.TimeWindowID
	ServiceDate         time.Time
	PlannedDeparture    time.Time
	OrderedAssignmentIDs []types.AssignmentID
	AnchorAssignmentID  *types.AssignmentID
	Polyline            string
	BaseDurationSeconds int
	TotalDistanceMeters int
}

// ServiceZone / TimeWindow is external collaborator data: read-only for the
// core, owned and seeded by a separate zone-configuration system.
type TimeWindow struct {
	ID                    types.TimeWindowID
	Campus                geo.Location
	CampusTargetTime      time.Time
	StartPickupTime       time.Time
	MaxRiders             int
	MaxRidersPerTrip      int
	MaxDetourSeconds      int
	MaxAnchorDistanceMeters *float64
	Active                bool
}

// InsertionPlan is canAddRiderToWindow's accepted outcome before commit.
type InsertionPlan struct {
	Index                int
	ExtraSeconds          int
	EstimatedArrivalTime time.Time
	EstimatedPickupTime  time.Time
	NewTotalSeconds      int
}

// Alternative is one of up to three other active windows with seats on the
// same date, offered when the requested window is full or cannot accept the
// detour.
type Alternative struct {
	TimeWindowID    types.TimeWindowID
	StartPickupTime time.Time
	SeatsAvailable  int
}

type stop struct {
	assignmentID types.AssignmentID
	pickup       geo.Location
}
