// README: RiderBehaviorModel: default profile + optional historical override,
// time-of-day adjustment, and randomized sampling of ready-delay/no-show.
package riderbehavior

import (
	"context"
	"math"
	"math/rand"

	"ark/internal/types"
)

// defaultExpectedDelay matches spec.md §6 DEFAULT_RIDER_DELAY=2 min.
const (
	defaultExpectedDelay    = 2.0
	defaultStdDelay         = 1.5
	defaultNoShowProb       = 0.03
	defaultReliabilityScore = 0.9
	minDelayClamp           = -3.0
	maxDelayClamp           = 15.0
)

// StatsProvider supplies historical aggregates for a rider. The default
// (nil) path requires no DB — NewModel(nil) is fully functional.
type StatsProvider interface {
	GetBehaviorStats(ctx context.Context, riderID types.RiderID) (*Aggregate, error)
}

// Model computes rider-behavior stats and samples. Safe for concurrent use.
type Model struct {
	provider StatsProvider
}

// NewModel builds a Model. provider may be nil to use the default profile only.
func NewModel(provider StatsProvider) *Model {
	return &Model{provider: provider}
}

// Stats returns the readiness distribution for riderID at the given hour-of-day.
func (m *Model) Stats(ctx context.Context, riderID types.RiderID, hourOfDay int) (Stats, error) {
	expected := defaultExpectedDelay
	std := defaultStdDelay
	noShow := defaultNoShowProb
	reliability := defaultReliabilityScore

	if m.provider != nil {
		agg, err := m.provider.GetBehaviorStats(ctx, riderID)
		if err != nil {
			return Stats{}, err
		}
		if agg.HasOverride() {
			expected = math.Max(agg.meanDelay(), minWalkToCurbMinutes)
			std = agg.stdDelay()
			noShow = agg.noShowRate()
			reliability = 1.0 - noShow
		}
	}

	expected = math.Max(expected, minWalkToCurbMinutes)
	expected += timeOfDayAdjustment(hourOfDay)
	p95 := expected + 1.645*std

	return Stats{
		ExpectedReadyDelay: expected,
		StdReadyDelay:      std,
		P95ReadyDelay:      p95,
		NoShowProbability:  noShow,
		ReliabilityScore:   reliability,
	}, nil
}

// timeOfDayAdjustment shifts expected/p95 delay: riders are later during peak
// commute hours (rushing out the door into heavier foot traffic/elevators).
func timeOfDayAdjustment(hourOfDay int) float64 {
	switch {
	case hourOfDay >= 7 && hourOfDay < 9:
		return 0.75
	case hourOfDay >= 16 && hourOfDay < 18:
		return 0.5
	default:
		return 0
	}
}

// Sample draws one readiness realization: Bernoulli no-show, else a
// normal-distributed delay clamped to [-3, +15] minutes.
func (m *Model) Sample(ctx context.Context, riderID types.RiderID, hourOfDay int, rng *rand.Rand) (SampleResult, error) {
	stats, err := m.Stats(ctx, riderID, hourOfDay)
	if err != nil {
		return SampleResult{}, err
	}

	if rng.Float64() < stats.NoShowProbability {
		return SampleResult{IsNoShow: true}, nil
	}

	delay := stats.ExpectedReadyDelay + boxMuller(rng)*stats.StdReadyDelay
	delay = math.Min(math.Max(delay, minDelayClamp), maxDelayClamp)
	return SampleResult{DelayMinutes: delay}, nil
}

func boxMuller(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	u2 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func sqrt(v float64) float64 {
	return math.Sqrt(v)
}
