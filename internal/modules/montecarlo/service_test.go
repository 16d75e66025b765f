package montecarlo

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"ark/internal/config"
	"ark/internal/geo"
	"ark/internal/modules/driverbase"
	"ark/internal/modules/riderbehavior"
	"ark/internal/modules/schedulestate"
	"ark/internal/modules/slotcatalog"
	"ark/internal/modules/travel"
	"ark/internal/types"
)

type fakeRides struct {
	rides        []*schedulestate.ScheduledRide
	blockStart   time.Time
	blockEnd     time.Time
}

func (f *fakeRides) GetRidesInTimeBlock(ctx context.Context, serviceDate, blockStart, blockEnd time.Time) ([]*schedulestate.ScheduledRide, error) {
	return f.rides, nil
}

func (f *fakeRides) GetBlockForTime(serviceDate, t time.Time) (schedulestate.Block, time.Time, time.Time) {
	return schedulestate.BlockMorningPeak, f.blockStart, f.blockEnd
}

type fakeBases struct {
	base driverbase.Base
}

func (f *fakeBases) GetBaseForBlock(ctx context.Context, serviceDate time.Time, direction string, fallback geo.Location) (*driverbase.Base, error) {
	return &f.base, nil
}

type fakeBehavior struct{}

func (fakeBehavior) Sample(ctx context.Context, riderID types.RiderID, hourOfDay int, rng *rand.Rand) (riderbehavior.SampleResult, error) {
	return riderbehavior.SampleResult{DelayMinutes: 2}, nil
}

func testSimulator(rides []*schedulestate.ScheduledRide, runs int) *Simulator {
	blockStart := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	blockEnd := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rs := &fakeRides{rides: rides, blockStart: blockStart, blockEnd: blockEnd}
	bases := &fakeBases{base: driverbase.Base{Location: geo.Location{Lat: 49.82, Lng: -97.15}}}
	cfg := config.MonteCarloConfig{
		DefaultRuns:            runs,
		PremiumOnTimeTarget:    0.99,
		NonPremiumOnTimeTarget: 0.95,
		MaxWorkers:             4,
	}
	return NewSimulator(rs, bases, fakeBehavior{}, travel.NewModel(travel.DefaultConfig()), cfg)
}

func testRide(id string, planType types.PlanType, arrivalEnd time.Time) *schedulestate.ScheduledRide {
	return &schedulestate.ScheduledRide{
		ID:           types.RideID(id),
		RiderID:      "rider-1",
		SlotID:       types.SlotID("slot-1"),
		PlanType:     planType,
		ArrivalStart: arrivalEnd.Add(-5 * time.Minute),
		ArrivalEnd:   arrivalEnd,
		OriginLoc:    schedulestate.Location{Lat: 49.83, Lng: -97.14},
		DestLoc:      schedulestate.Location{Lat: 49.8075, Lng: -97.1325},
	}
}

func TestRun_RoomyScheduleYieldsHighOnTimeRate(t *testing.T) {
	rides := []*schedulestate.ScheduledRide{
		testRide("r1", types.PlanPremium, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
	}
	sim := testSimulator(rides, 50)

	summary, err := sim.Run(context.Background(), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Scenario{Direction: slotcatalog.DirectionHomeToCampus, Variance: travel.VarianceNormal}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.PremiumOnTimeRate < 0.8 {
		t.Fatalf("expected a high on-time rate with a roomy deadline, got %f", summary.PremiumOnTimeRate)
	}
	if summary.PremiumP95 > summary.PremiumOnTimeRate {
		t.Fatalf("expected the 5th percentile to be no better than the mean, got p95=%f mean=%f",
			summary.PremiumP95, summary.PremiumOnTimeRate)
	}
}

func TestRun_TightDeadlineTriggersLowRateRecommendation(t *testing.T) {
	rides := []*schedulestate.ScheduledRide{
		testRide("r1", types.PlanStandard, time.Date(2026, 3, 2, 7, 1, 0, 0, time.UTC)),
	}
	sim := testSimulator(rides, 30)

	summary, err := sim.Run(context.Background(), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Scenario{Direction: slotcatalog.DirectionHomeToCampus, Variance: travel.VarianceHigh}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.NonPremiumOnTimeRate >= 0.95 {
		t.Fatalf("expected a low on-time rate with an unreachable deadline, got %f", summary.NonPremiumOnTimeRate)
	}
	found := false
	for _, rec := range summary.Recommendations {
		if rec != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected at least one recommendation, got none")
	}
}

func TestRun_DefaultsRunsFromConfigWhenZero(t *testing.T) {
	sim := testSimulator(nil, 5)
	summary, err := sim.Run(context.Background(), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Scenario{Direction: slotcatalog.DirectionHomeToCampus, Variance: travel.VarianceNormal}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.PremiumOnTimeRate != 1 {
		t.Fatalf("expected rate 1 with no premium rides (vacuously on-time), got %f", summary.PremiumOnTimeRate)
	}
}

type fakeJobStore struct {
	job *Job
}

func (f *fakeJobStore) CreateJob(ctx context.Context, j *Job) error {
	f.job = j
	return nil
}

func (f *fakeJobStore) MarkRunning(ctx context.Context, jobID types.JobID, startedAt time.Time) error {
	f.job.Status = JobRunning
	return nil
}

func (f *fakeJobStore) MarkCompleted(ctx context.Context, jobID types.JobID, results *Summary, completedAt time.Time) error {
	f.job.Status = JobCompleted
	f.job.Results = results
	return nil
}

func (f *fakeJobStore) MarkFailed(ctx context.Context, jobID types.JobID, errMsg string, completedAt time.Time) error {
	f.job.Status = JobFailed
	f.job.Error = errMsg
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestRunAndSaveSimulation_TransitionsToCompleted(t *testing.T) {
	rides := []*schedulestate.ScheduledRide{
		testRide("r1", types.PlanPremium, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
	}
	sim := testSimulator(rides, 10)
	store := &fakeJobStore{job: &Job{JobID: "job-1", Status: JobPending}}
	clk := fixedClock{now: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)}

	summary, err := RunAndSaveSimulation(context.Background(), sim, store, clk, "job-1",
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Scenario{Direction: slotcatalog.DirectionHomeToCampus, Variance: travel.VarianceNormal}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.job.Status != JobCompleted {
		t.Fatalf("expected job completed, got %s", store.job.Status)
	}
	if store.job.Results != summary {
		t.Fatalf("expected the stored results to be the returned summary")
	}
}
