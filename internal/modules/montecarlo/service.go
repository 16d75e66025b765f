// README: MonteCarloSimulator — replays a day's scheduled rides N times,
// sampling travel time and rider readiness instead of using their p95
// deterministic estimates, then aggregates on-time rates and capacity
// recommendations. Runs are CPU-bound and fan out across a bounded worker
// pool with golang.org/x/sync/errgroup.
package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"ark/internal/config"
	"ark/internal/geo"
	"ark/internal/modules/driverbase"
	"ark/internal/modules/riderbehavior"
	"ark/internal/modules/schedulestate"
	"ark/internal/modules/travel"
	"ark/internal/types"
)

func toGeo(l schedulestate.Location) geo.Location {
	return geo.Location{Lat: l.Lat, Lng: l.Lng}
}

type RideSource interface {
	GetRidesInTimeBlock(ctx context.Context, serviceDate, blockStart, blockEnd time.Time) ([]*schedulestate.ScheduledRide, error)
	GetBlockForTime(serviceDate, t time.Time) (schedulestate.Block, time.Time, time.Time)
}

type BaseSource interface {
	GetBaseForBlock(ctx context.Context, serviceDate time.Time, direction string, fallback geo.Location) (*driverbase.Base, error)
}

type BehaviorSource interface {
	Sample(ctx context.Context, riderID types.RiderID, hourOfDay int, rng *rand.Rand) (riderbehavior.SampleResult, error)
}

// highLateRateThreshold is the per-slot late-rate over all runs above which
// a slot is flagged for a non-Premium capacity cut.
const highLateRateThreshold = 0.10

type Simulator struct {
	rides    RideSource
	bases    BaseSource
	behavior BehaviorSource
	travel   *travel.Model
	cfg      config.MonteCarloConfig
}

func NewSimulator(rides RideSource, bases BaseSource, behavior BehaviorSource, travelModel *travel.Model, cfg config.MonteCarloConfig) *Simulator {
	return &Simulator{rides: rides, bases: bases, behavior: behavior, travel: travelModel, cfg: cfg}
}

// JobStore persists a Job's lifecycle for RunAndSaveSimulation.
type JobStore interface {
	CreateJob(ctx context.Context, j *Job) error
	MarkRunning(ctx context.Context, jobID types.JobID, startedAt time.Time) error
	MarkCompleted(ctx context.Context, jobID types.JobID, results *Summary, completedAt time.Time) error
	MarkFailed(ctx context.Context, jobID types.JobID, errMsg string, completedAt time.Time) error
}

// Clock abstracts wall-clock reads for job timestamps.
type Clock interface {
	Now() time.Time
}

// RunAndSaveSimulation drives jobID from pending to running, runs the
// simulation, and records completed|failed. A panic inside Run surfaces as
// a failed job rather than an unrecorded crash.
func RunAndSaveSimulation(ctx context.Context, sim *Simulator, store JobStore, clk Clock, jobID types.JobID, serviceDate time.Time, scenario Scenario, runs int) (summary *Summary, err error) {
	if err := store.MarkRunning(ctx, jobID, clk.Now()); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simulation panicked: %v", r)
		}
		if err != nil {
			_ = store.MarkFailed(ctx, jobID, err.Error(), clk.Now())
		}
	}()

	summary, err = sim.Run(ctx, serviceDate, scenario, runs)
	if err != nil {
		return nil, err
	}
	if err := store.MarkCompleted(ctx, jobID, summary, clk.Now()); err != nil {
		return nil, err
	}
	return summary, nil
}

// Run drives `runs` (0 means cfg.DefaultRuns) independent simulated days in
// parallel over the full 24h span of serviceDate, bounded by cfg.MaxWorkers,
// and reduces them to a Summary. ctx cancellation is checked between runs.
func (s *Simulator) Run(ctx context.Context, serviceDate time.Time, scenario Scenario, runs int) (*Summary, error) {
	if runs <= 0 {
		runs = s.cfg.DefaultRuns
	}
	if runs <= 0 {
		runs = 1000
	}

	results := make([]runResult, runs)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxWorkers(s.cfg.MaxWorkers))

	for i := 0; i < runs; i++ {
		i := i
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("simulation run %d panicked: %v", i, r)
				}
			}()
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			rng := rand.New(rand.NewSource(int64(i) + 1))
			r, err := s.simulateOneDay(gctx, serviceDate, scenario, rng)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return aggregate(results, s.cfg), nil
}

func maxWorkers(n int) int {
	if n <= 0 {
		return 8
	}
	return n
}

// simulateOneDay walks every block of serviceDate for scenario.Direction,
// sampling each ride's travel time and rider readiness delay from their
// distributions instead of using the p95 point estimate.
func (s *Simulator) simulateOneDay(ctx context.Context, serviceDate time.Time, scenario Scenario, rng *rand.Rand) (runResult, error) {
	result := runResult{
		lateBySlot:  map[types.SlotID]int{},
		totalBySlot: map[types.SlotID]int{},
	}

	for _, block := range dayBlocks(serviceDate, s.rides) {
		rides, err := s.rides.GetRidesInTimeBlock(ctx, serviceDate, block.start, block.end)
		if err != nil {
			return runResult{}, err
		}
		if len(rides) == 0 {
			continue
		}

		sorted := append([]*schedulestate.ScheduledRide(nil), rides...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ArrivalStart.Before(sorted[j].ArrivalStart) })

		base, err := s.bases.GetBaseForBlock(ctx, serviceDate, string(scenario.Direction), toGeo(sorted[0].OriginLoc))
		if err != nil {
			return runResult{}, err
		}

		currentLoc := base.Location
		currentTime := block.start
		for _, ride := range sorted {
			tctx := travel.TimeContext{Date: serviceDate, Time: currentTime, DayOfWeek: currentTime.Weekday()}
			toPickup := s.travel.Sample(tctx, currentLoc, toGeo(ride.OriginLoc), scenario.Variance, rng)
			currentTime = currentTime.Add(time.Duration(toPickup * float64(time.Minute)))

			readiness, err := s.behavior.Sample(ctx, ride.RiderID, currentTime.Hour(), rng)
			if err != nil {
				return runResult{}, err
			}
			if readiness.IsNoShow {
				currentLoc = toGeo(ride.DestLoc)
				continue
			}
			currentTime = currentTime.Add(time.Duration(readiness.DelayMinutes * float64(time.Minute)))

			tctx.Time = currentTime
			toDest := s.travel.Sample(tctx, toGeo(ride.OriginLoc), toGeo(ride.DestLoc), scenario.Variance, rng)
			currentTime = currentTime.Add(time.Duration(toDest * float64(time.Minute)))

			deadline := ride.ArrivalEnd
			lateness := currentTime.Sub(deadline).Minutes()
			if lateness < 0 {
				lateness = 0
			}
			wasOnTime := lateness == 0

			if ride.PlanType.IsPremium() {
				result.premiumTotal++
				if wasOnTime {
					result.premiumOnTime++
				}
			} else {
				result.nonPremiumTotal++
				if wasOnTime {
					result.nonPremiumOnTime++
				}
			}
			if lateness > result.maxLateness {
				result.maxLateness = lateness
			}
			result.totalBySlot[ride.SlotID]++
			if !wasOnTime {
				result.lateBySlot[ride.SlotID]++
			}

			currentLoc = toGeo(ride.DestLoc)
		}
	}
	return result, nil
}

type blockSpan struct {
	start time.Time
	end   time.Time
}

// dayBlocks derives the day's named blocks from rides.GetBlockForTime by
// probing every hour, so a reconfigured peak schedule reshapes simulated
// blocks the same way ScheduleState does.
func dayBlocks(serviceDate time.Time, rides RideSource) []blockSpan {
	dayStart := time.Date(serviceDate.Year(), serviceDate.Month(), serviceDate.Day(), 0, 0, 0, 0, serviceDate.Location())
	var spans []blockSpan
	var lastBlock schedulestate.Block
	for h := 0; h < 24; h++ {
		block, start, end := rides.GetBlockForTime(serviceDate, dayStart.Add(time.Duration(h)*time.Hour))
		if block == lastBlock && len(spans) > 0 {
			continue
		}
		spans = append(spans, blockSpan{start: start, end: end})
		lastBlock = block
	}
	return spans
}

// aggregate reduces N simulated runResults into a Summary and derives
// capacity recommendations from config.MonteCarloConfig thresholds.
func aggregate(results []runResult, cfg config.MonteCarloConfig) *Summary {
	n := len(results)
	premiumRates := make([]float64, n)
	nonPremiumRates := make([]float64, n)
	var maxLatenessSum, overallMaxLateness float64

	lateBySlot := map[types.SlotID]int{}
	totalBySlot := map[types.SlotID]int{}

	for i, r := range results {
		premiumRates[i] = rate(r.premiumOnTime, r.premiumTotal)
		nonPremiumRates[i] = rate(r.nonPremiumOnTime, r.nonPremiumTotal)
		maxLatenessSum += r.maxLateness
		if r.maxLateness > overallMaxLateness {
			overallMaxLateness = r.maxLateness
		}
		for slot, late := range r.lateBySlot {
			lateBySlot[slot] += late
		}
		for slot, total := range r.totalBySlot {
			totalBySlot[slot] += total
		}
	}

	summary := &Summary{
		PremiumOnTimeRate:    mean(premiumRates),
		PremiumP95:           percentile(premiumRates, 5),
		PremiumWorstRun:      minOf(premiumRates),
		NonPremiumOnTimeRate: mean(nonPremiumRates),
		NonPremiumP95:        percentile(nonPremiumRates, 5),
		NonPremiumWorstRun:   minOf(nonPremiumRates),
		MaxLatenessMinutes:   overallMaxLateness,
		AvgMaxLateness:       maxLatenessSum / float64(max(n, 1)),
	}

	for slot, late := range lateBySlot {
		total := totalBySlot[slot]
		if total == 0 {
			continue
		}
		if float64(late)/float64(total) > highLateRateThreshold {
			summary.HighLatenessSlots = append(summary.HighLatenessSlots, slot)
		}
	}
	sort.Slice(summary.HighLatenessSlots, func(i, j int) bool {
		return summary.HighLatenessSlots[i] < summary.HighLatenessSlots[j]
	})

	summary.Recommendations = recommendations(summary, cfg)
	return summary
}

func recommendations(s *Summary, cfg config.MonteCarloConfig) []string {
	var out []string
	if s.PremiumOnTimeRate < cfg.PremiumOnTimeTarget {
		out = append(out, "reduce non-premium capacity: premium on-time rate is below target")
	}
	if s.NonPremiumOnTimeRate < cfg.NonPremiumOnTimeTarget {
		out = append(out, "reduce non-premium capacity in hot hours: non-premium on-time rate is below target")
	}
	if s.MaxLatenessMinutes > 15 {
		out = append(out, "review ride density: worst-case lateness exceeds 15 minutes")
	}
	for _, slot := range s.HighLatenessSlots {
		out = append(out, fmt.Sprintf("halve non-premium capacity for slot %s: late-rate exceeds 10%% across runs", slot))
	}
	return out
}

func rate(onTime, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(onTime) / float64(total)
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func minOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// percentile returns the value at pct (0-100) of vs sorted ascending — used
// for the "5th percentile of the on-time rate", i.e. the worst 5% of runs.
func percentile(vs []float64, pct float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
