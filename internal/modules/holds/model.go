// README: HoldManager domain types. Hold mirrors the slot_holds row
// schedulestate.SlotHold reads, plus the origin/destination ScheduleState
// never needs. Status reuses schedulestate.HoldStatus so both sides of the
// table agree on the wire values.
package holds

import (
	"time"

	"ark/internal/geo"
	"ark/internal/modules/schedulestate"
	"ark/internal/types"
)

// CreateHoldRequest is createHold's input.
type CreateHoldRequest struct {
	RiderID     types.RiderID
	PlanType    types.PlanType
	SlotID      types.SlotID
	ServiceDate time.Time
	Direction   string
	OriginLoc   geo.Location
	DestLoc     geo.Location
}

// Hold is a reservation against one slot's capacity, pending confirmation
// into a ScheduledRide or release back to the pool.
type Hold struct {
	HoldID    types.HoldID
	SlotID    types.SlotID
	RiderID   types.RiderID
	PlanType  types.PlanType
	OriginLoc geo.Location
	DestLoc   geo.Location
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    schedulestate.HoldStatus
}

// isTerminal reports whether Status can never transition again.
func (h *Hold) isTerminal() bool {
	return h.Status != schedulestate.HoldStatusActive
}
