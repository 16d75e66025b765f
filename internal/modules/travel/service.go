// README: Deterministic travel-time stats and random sampling between two
// coordinates for a given time context. No I/O — the caller supplies
// TimeContext and the model is otherwise a pure function of its Config.
package travel

import (
	"math"
	"math/rand"

	"ark/internal/geo"
)

// CorridorOverlay adds a fixed additive multiplier when either endpoint
// falls inside the [Min, Max] box during peak hours (hours whose HourOfDay
// factor exceeds 1.3: 07-10 and 15-18 under DefaultConfig).
type CorridorOverlay struct {
	Min, Max geo.Location
	Additive float64
}

// Config tunes the traffic model. Zero-value Config is unusable; start from DefaultConfig().
type Config struct {
	RoadFactor       float64 // default 1.3
	BaseSpeedKmh     float64 // default 28
	SafetyMultiplier float64 // default 1.3 (p95 = mean * SafetyMultiplier)
	HourOfDay        [24]float64
	DayOfWeek        [7]float64
	Weather          map[string]float64
	Corridors        []CorridorOverlay
}

// DefaultConfig returns the configuration described in spec.md §4.1.
func DefaultConfig() Config {
	var hod [24]float64
	for h := 0; h < 24; h++ {
		hod[h] = 1.0
	}
	// Morning peak 07:00-10:00, evening peak 15:00-18:00.
	for h := 7; h < 10; h++ {
		hod[h] = 1.4
	}
	for h := 15; h < 18; h++ {
		hod[h] = 1.45
	}
	// Late night is lighter than baseline.
	for h := 0; h < 5; h++ {
		hod[h] = 0.85
	}

	dow := [7]float64{1.0, 1.05, 1.05, 1.05, 1.05, 1.1, 0.9} // Sun..Sat

	return Config{
		RoadFactor:       1.3,
		BaseSpeedKmh:     28.0,
		SafetyMultiplier: 1.3,
		HourOfDay:        hod,
		DayOfWeek:        dow,
		Weather: map[string]float64{
			"":       1.0,
			"clear":  1.0,
			"rain":   1.15,
			"snow":   1.5,
			"storm":  1.8,
		},
		Corridors: nil,
	}
}

// Model computes travel-time statistics and samples. Safe for concurrent use:
// it holds no mutable state beyond its immutable Config.
type Model struct {
	cfg Config
}

// NewModel builds a Model from cfg; zero-valued fields are NOT defaulted —
// callers should start from DefaultConfig() and override.
func NewModel(cfg Config) *Model {
	return &Model{cfg: cfg}
}

// trafficMultiplier is the product of hour-of-day, day-of-week, and weather
// factors, plus any corridor overlay additive that applies.
func (m *Model) trafficMultiplier(ctx TimeContext, origin, dest geo.Location) float64 {
	hour := ctx.Time.Hour()
	hod := m.cfg.HourOfDay[hour]
	dow := m.cfg.DayOfWeek[int(ctx.DayOfWeek)%7]
	weather := m.cfg.Weather[ctx.Weather]
	if weather == 0 {
		weather = 1.0
	}

	mult := hod * dow * weather

	isPeak := m.cfg.HourOfDay[hour] > 1.3
	if isPeak {
		for _, c := range m.cfg.Corridors {
			if geo.InRectangle(origin, c.Min, c.Max) || geo.InRectangle(dest, c.Min, c.Max) {
				mult += c.Additive
			}
		}
	}
	return mult
}

// Stats returns the deterministic mean/std/p95 travel time in minutes
// between origin and dest under ctx.
func (m *Model) Stats(ctx TimeContext, origin, dest geo.Location) Stats {
	distanceKm := geo.HaversineKm(origin, dest) * m.cfg.RoadFactor
	trafficMult := m.trafficMultiplier(ctx, origin, dest)
	effectiveSpeed := m.cfg.BaseSpeedKmh / trafficMult

	meanMinutes := distanceKm / effectiveSpeed * 60

	varianceBoost := 1.0
	if trafficMult > 1.2 {
		varianceBoost = 1.3
	}
	stdMinutes := meanMinutes * 0.15 * varianceBoost
	p95Minutes := meanMinutes * m.cfg.SafetyMultiplier

	return Stats{
		MeanMinutes: meanMinutes,
		StdMinutes:  stdMinutes,
		P95Minutes:  p95Minutes,
		DistanceKm:  distanceKm,
	}
}

// P95 is a convenience accessor used by the feasibility simulation.
func (m *Model) P95(ctx TimeContext, origin, dest geo.Location) float64 {
	return m.Stats(ctx, origin, dest).P95Minutes
}

// Sample draws one travel-time realization (minutes) via Box-Muller normal
// sampling around Stats.MeanMinutes, clamped to [0.6*mean, 2.0*mean].
func (m *Model) Sample(ctx TimeContext, origin, dest geo.Location, variance VarianceLevel, rng *rand.Rand) float64 {
	stats := m.Stats(ctx, origin, dest)
	std := stats.StdMinutes * variance.multiplier()

	sample := stats.MeanMinutes + boxMuller(rng)*std

	lo := 0.6 * stats.MeanMinutes
	hi := 2.0 * stats.MeanMinutes
	return math.Min(math.Max(sample, lo), hi)
}

// boxMuller draws one standard-normal sample using the Box-Muller transform.
func boxMuller(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	u2 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
