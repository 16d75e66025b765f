package feasibility

import (
	"context"
	"testing"
	"time"

	"ark/internal/geo"
	"ark/internal/modules/driverbase"
	"ark/internal/modules/riderbehavior"
	"ark/internal/modules/schedulestate"
	"ark/internal/modules/slotcatalog"
	"ark/internal/modules/travel"
	"ark/internal/types"
)

type fakeSlots struct {
	byID map[types.SlotID]*slotcatalog.TimeSlot
}

func (f *fakeSlots) GetSlotByID(ctx context.Context, id types.SlotID) (*slotcatalog.TimeSlot, error) {
	return f.byID[id], nil
}

type fakeRides struct {
	rides []*schedulestate.ScheduledRide
}

func (f *fakeRides) GetRidesInTimeBlock(ctx context.Context, serviceDate, blockStart, blockEnd time.Time) ([]*schedulestate.ScheduledRide, error) {
	var out []*schedulestate.ScheduledRide
	for _, r := range f.rides {
		if r.ArrivalStart.Before(blockEnd) && r.ArrivalEnd.After(blockStart) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRides) GetBlockForTime(serviceDate, t time.Time) (schedulestate.Block, time.Time, time.Time) {
	dayStart := time.Date(serviceDate.Year(), serviceDate.Month(), serviceDate.Day(), 0, 0, 0, 0, serviceDate.Location())
	return schedulestate.BlockMorningPeak, dayStart.Add(7 * time.Hour), dayStart.Add(10 * time.Hour)
}

type fakeBases struct {
	base driverbase.Base
}

func (f *fakeBases) GetBaseForBlock(ctx context.Context, serviceDate time.Time, direction string, fallback geo.Location) (*driverbase.Base, error) {
	return &f.base, nil
}

type fakeBehavior struct{}

func (fakeBehavior) Stats(ctx context.Context, riderID types.RiderID, hourOfDay int) (riderbehavior.Stats, error) {
	return riderbehavior.Stats{ExpectedReadyDelay: 2, StdReadyDelay: 1, P95ReadyDelay: 3}, nil
}

func testEngine(slots map[types.SlotID]*slotcatalog.TimeSlot, existing []*schedulestate.ScheduledRide, base geo.Location) *Engine {
	return NewEngine(
		&fakeSlots{byID: slots},
		&fakeRides{rides: existing},
		&fakeBases{base: driverbase.Base{Location: base}},
		fakeBehavior{},
		travel.NewModel(travel.DefaultConfig()),
	)
}

func TestCanInsertRideIntoSlot_NoCapacity(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slot := &slotcatalog.TimeSlot{ID: "s1", SlotType: slotcatalog.SlotTypePeak, MaxRidersPremium: 1, UsedRidersPremium: 1}
	e := testEngine(map[types.SlotID]*slotcatalog.TimeSlot{"s1": slot}, nil, geo.Location{Lat: 49.83, Lng: -97.14})

	decision, err := e.CanInsertRideIntoSlot(context.Background(), InsertRequest{
		Request:     Request{RiderID: "r1", PlanType: types.PlanPremium, OriginLoc: geo.Location{Lat: 49.82, Lng: -97.13}, DestLoc: geo.Location{Lat: 49.81, Lng: -97.12}},
		ServiceDate: date, SlotID: "s1", Direction: "home_to_campus",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Feasible {
		t.Fatalf("expected infeasible when slot is full")
	}
	if decision.Reason != "NO_CAPACITY" {
		t.Fatalf("expected NO_CAPACITY, got %s", decision.Reason)
	}
}

func TestCanInsertRideIntoSlot_PeakClosedForNonPremium(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slot := &slotcatalog.TimeSlot{ID: "s1", SlotType: slotcatalog.SlotTypePeak, MaxRidersNonPremium: 0}
	e := testEngine(map[types.SlotID]*slotcatalog.TimeSlot{"s1": slot}, nil, geo.Location{Lat: 49.83, Lng: -97.14})

	decision, err := e.CanInsertRideIntoSlot(context.Background(), InsertRequest{
		Request:     Request{RiderID: "r1", PlanType: types.PlanStandard, OriginLoc: geo.Location{Lat: 49.82, Lng: -97.13}, DestLoc: geo.Location{Lat: 49.81, Lng: -97.12}},
		ServiceDate: date, SlotID: "s1", Direction: "home_to_campus",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Feasible || decision.Reason != "PEAK_CLOSED" {
		t.Fatalf("expected PEAK_CLOSED, got feasible=%v reason=%s", decision.Feasible, decision.Reason)
	}
}

func TestCanInsertRideIntoSlot_FeasibleWhenRoomy(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slot := &slotcatalog.TimeSlot{
		ID: "s1", SlotType: slotcatalog.SlotTypePeak, MaxRidersPremium: 2,
		ArrivalStart: date.Add(7*time.Hour + 30*time.Minute), ArrivalEnd: date.Add(7*time.Hour + 35*time.Minute),
	}
	e := testEngine(map[types.SlotID]*slotcatalog.TimeSlot{"s1": slot}, nil, geo.Location{Lat: 49.83, Lng: -97.14})

	decision, err := e.CanInsertRideIntoSlot(context.Background(), InsertRequest{
		Request:     Request{RiderID: "r1", PlanType: types.PlanPremium, OriginLoc: geo.Location{Lat: 49.829, Lng: -97.139}, DestLoc: geo.Location{Lat: 49.8075, Lng: -97.1325}},
		ServiceDate: date, SlotID: "s1", Direction: "home_to_campus",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Feasible {
		t.Fatalf("expected feasible, got reason=%s", decision.Reason)
	}
	if decision.BufferMinutes <= 0 {
		t.Fatalf("expected positive buffer, got %f", decision.BufferMinutes)
	}
}

func TestCanInsertRideIntoSlot_CandidateLateWhenFarAndTight(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slot := &slotcatalog.TimeSlot{
		ID: "s1", SlotType: slotcatalog.SlotTypePeak, MaxRidersPremium: 2,
		ArrivalStart: date.Add(7*time.Hour + 1*time.Minute), ArrivalEnd: date.Add(7*time.Hour + 6*time.Minute),
	}
	farBase := geo.Location{Lat: 49.2, Lng: -96.5}
	e := testEngine(map[types.SlotID]*slotcatalog.TimeSlot{"s1": slot}, nil, farBase)

	decision, err := e.CanInsertRideIntoSlot(context.Background(), InsertRequest{
		Request:     Request{RiderID: "r1", PlanType: types.PlanPremium, OriginLoc: geo.Location{Lat: 49.2, Lng: -96.5}, DestLoc: geo.Location{Lat: 49.8075, Lng: -97.1325}},
		ServiceDate: date, SlotID: "s1", Direction: "home_to_campus",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Feasible || decision.Reason != "CANDIDATE_LATE" {
		t.Fatalf("expected CANDIDATE_LATE, got feasible=%v reason=%s", decision.Feasible, decision.Reason)
	}
}

func TestCanInsertRideIntoSlot_WouldDelayPremiumBlocksInsertion(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slot := &slotcatalog.TimeSlot{
		ID: "s1", SlotType: slotcatalog.SlotTypePeak, MaxRidersPremium: 2,
		ArrivalStart: date.Add(7*time.Hour + 10*time.Minute), ArrivalEnd: date.Add(7*time.Hour + 15*time.Minute),
	}
	// An existing Premium ride whose deadline (arrivalEnd - 5 min = 07:00)
	// equals the block start, so the simulation cannot deliver it on time;
	// any insertion into a block holding a late Premium ride is rejected.
	existing := []*schedulestate.ScheduledRide{
		{
			ID: "p1", RiderID: "premium-rider", PlanType: types.PlanPremium,
			ArrivalStart: date.Add(7 * time.Hour), ArrivalEnd: date.Add(7*time.Hour + 5*time.Minute),
			OriginLoc: schedulestate.Location{Lat: 49.2, Lng: -96.5}, DestLoc: schedulestate.Location{Lat: 49.8075, Lng: -97.1325},
		},
	}
	e := testEngine(map[types.SlotID]*slotcatalog.TimeSlot{"s1": slot}, existing, geo.Location{Lat: 49.2, Lng: -96.5})

	decision, err := e.CanInsertRideIntoSlot(context.Background(), InsertRequest{
		Request:     Request{RiderID: "candidate-rider", PlanType: types.PlanPremium, OriginLoc: geo.Location{Lat: 49.83, Lng: -97.14}, DestLoc: geo.Location{Lat: 49.81, Lng: -97.12}},
		ServiceDate: date, SlotID: "s1", Direction: "home_to_campus",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Feasible || decision.Reason != "WOULD_DELAY_PREMIUM" {
		t.Fatalf("expected WOULD_DELAY_PREMIUM, got feasible=%v reason=%s", decision.Feasible, decision.Reason)
	}
}

func TestQuickFeasibilityCheck_MatchesCapacityGate(t *testing.T) {
	slot := &slotcatalog.TimeSlot{ID: "s1", SlotType: slotcatalog.SlotTypeOffPeak, MaxRidersNonPremium: 0}
	e := testEngine(map[types.SlotID]*slotcatalog.TimeSlot{"s1": slot}, nil, geo.Location{Lat: 49.83, Lng: -97.14})

	ok, reason, err := e.QuickFeasibilityCheck(context.Background(), "s1", types.PlanStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || reason != "NO_CAPACITY" {
		t.Fatalf("expected NO_CAPACITY, got ok=%v reason=%s", ok, reason)
	}
}

func TestAnalyzeRideImpact_FlagsNegativeDelta(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slot := &slotcatalog.TimeSlot{
		ID: "s1", SlotType: slotcatalog.SlotTypePeak, MaxRidersPremium: 2,
		ArrivalStart: date.Add(7*time.Hour + 2*time.Minute), ArrivalEnd: date.Add(7*time.Hour + 7*time.Minute),
	}
	existing := []*schedulestate.ScheduledRide{
		{
			ID: "p1", RiderID: "a-rider", PlanType: types.PlanPremium,
			ArrivalStart: date.Add(7*time.Hour + 10*time.Minute), ArrivalEnd: date.Add(7*time.Hour + 30*time.Minute),
			OriginLoc: schedulestate.Location{Lat: 49.83, Lng: -97.14}, DestLoc: schedulestate.Location{Lat: 49.81, Lng: -97.12},
		},
	}
	e := testEngine(map[types.SlotID]*slotcatalog.TimeSlot{"s1": slot}, existing, geo.Location{Lat: 49.83, Lng: -97.14})

	impacts, err := e.AnalyzeRideImpact(context.Background(), InsertRequest{
		Request:     Request{RiderID: "candidate", PlanType: types.PlanPremium, OriginLoc: geo.Location{Lat: 49.83, Lng: -97.14}, DestLoc: geo.Location{Lat: 49.81, Lng: -97.12}},
		ServiceDate: date, SlotID: "s1", Direction: "home_to_campus",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(impacts) != 1 {
		t.Fatalf("expected 1 impact row, got %d", len(impacts))
	}
	if impacts[0].NewBuffer >= impacts[0].CurrentBuffer {
		t.Fatalf("expected inserting ahead of p1 to shrink its buffer: current=%f new=%f", impacts[0].CurrentBuffer, impacts[0].NewBuffer)
	}
}
