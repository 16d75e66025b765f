// README: Rider readiness/no-show domain types.
package riderbehavior

import (
	"time"

	"ark/internal/types"
)

// minCompletedRidesForOverride is the threshold before historical aggregates
// replace the default profile (spec.md §4.2: "≥ 5 completed rides").
const minCompletedRidesForOverride = 5

// minWalkToCurbMinutes is the floor every rider profile carries, default or historical.
const minWalkToCurbMinutes = 1.5

// Stats is the behavior distribution summary for a rider at a point in time.
type Stats struct {
	ExpectedReadyDelay float64
	StdReadyDelay      float64
	P95ReadyDelay      float64
	NoShowProbability  float64
	ReliabilityScore   float64
}

// SampleResult is one randomized realization of rider readiness.
type SampleResult struct {
	DelayMinutes float64
	IsNoShow     bool
}

// Aggregate is the append-only historical accumulator for one rider.
// Monotonic: CompletedRides only grows, sums only grow (NoShows is a count,
// not reversible) — Update never subtracts.
type Aggregate struct {
	RiderID        types.RiderID
	CompletedRides int
	SumDelay       float64
	SumDelaySq     float64
	NoShowCount    int
	UpdatedAt      time.Time
}

// HasOverride reports whether this aggregate is mature enough to replace the default profile.
func (a *Aggregate) HasOverride() bool {
	return a != nil && a.CompletedRides >= minCompletedRidesForOverride
}

// mean and stddev of observed ready-delay, ignoring no-shows (a no-show has no delay sample).
func (a *Aggregate) meanDelay() float64 {
	observed := a.CompletedRides
	if observed == 0 {
		return 0
	}
	return a.SumDelay / float64(observed)
}

func (a *Aggregate) stdDelay() float64 {
	observed := a.CompletedRides
	if observed == 0 {
		return 0
	}
	mean := a.meanDelay()
	variance := a.SumDelaySq/float64(observed) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return sqrt(variance)
}

func (a *Aggregate) noShowRate() float64 {
	total := a.CompletedRides + a.NoShowCount
	if total == 0 {
		return 0
	}
	return float64(a.NoShowCount) / float64(total)
}
