// README: Availability domain types — the ranking surface over SlotCatalog
// that a rider searches to pick an arrival window.
package availability

import (
	"time"

	"ark/internal/geo"
	"ark/internal/modules/feasibility"
	"ark/internal/types"
)

// Query is getAvailableArrivalWindows' input. DesiredArrival is optional —
// the zero time means "no preference, return every feasible window".
type Query struct {
	RiderID        types.RiderID
	ServiceDate    time.Time
	OriginLoc      geo.Location
	DestLoc        geo.Location
	PlanType       types.PlanType
	DesiredArrival time.Time
}

// Window is one ranked, feasible arrival window.
type Window struct {
	SlotID              types.SlotID
	ArrivalStart        time.Time
	ArrivalEnd          time.Time
	RiskLevel           feasibility.RiskLevel
	EstimatedPickupTime time.Time
}

func hasDesiredArrival(q Query) bool {
	return !q.DesiredArrival.IsZero()
}
