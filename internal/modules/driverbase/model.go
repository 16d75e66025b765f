// README: Driver home-base registry. One base per (serviceDate, direction)
// anchors FeasibilityEngine's block simulation; NearestBase supports
// dispatch-facing lookups the same way driver candidates were geo-matched.
package driverbase

import (
	"time"

	"ark/internal/geo"
)

// Base is the location a driver starts from at the beginning of a block.
type Base struct {
	ID          string
	ServiceDate time.Time
	Direction   string
	Label       string
	Location    geo.Location
	UpdatedAt   time.Time
}
