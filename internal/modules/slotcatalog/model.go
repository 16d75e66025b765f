// README: TimeSlot domain types — canonical per-date/direction arrival
// windows with premium/non-premium capacity counters.
package slotcatalog

import (
	"fmt"
	"time"

	"ark/internal/types"
)

// Direction is the commute direction a slot serves.
type Direction string

const (
	DirectionHomeToCampus Direction = "home_to_campus"
	DirectionCampusToHome Direction = "campus_to_home"
	DirectionHomeToWork   Direction = "home_to_work"
	DirectionWorkToHome   Direction = "work_to_home"
	DirectionOther        Direction = "other"
)

// SlotType marks whether a slot falls inside a configured peak window.
type SlotType string

const (
	SlotTypePeak    SlotType = "peak"
	SlotTypeOffPeak SlotType = "off_peak"
)

// TimeSlot is one arrival window on one service date/direction.
type TimeSlot struct {
	ID                   types.SlotID
	ServiceDate          time.Time
	Direction            Direction
	SlotType             SlotType
	ArrivalStart         time.Time
	ArrivalEnd           time.Time
	MaxRidersPremium     int
	UsedRidersPremium    int
	MaxRidersNonPremium  int
	UsedRidersNonPremium int
	Fragile              bool
}

// BuildSlotID derives the deterministic (date, direction, arrivalStart) key.
func BuildSlotID(serviceDate time.Time, direction Direction, arrivalStart time.Time) types.SlotID {
	return types.SlotID(fmt.Sprintf("%s_%s_%s", serviceDate.Format("2006-01-02"), direction, arrivalStart.Format("1504")))
}

// HasAvailability reports whether one more rider of the given plan tier can
// be placed into this slot. Fragile slots are premium-only regardless of
// their configured non-premium capacity.
func (s TimeSlot) HasAvailability(isPremium bool) bool {
	if isPremium {
		return s.UsedRidersPremium < s.MaxRidersPremium
	}
	if s.Fragile {
		return false
	}
	return s.SlotType == SlotTypeOffPeak && s.UsedRidersNonPremium < s.MaxRidersNonPremium
}
