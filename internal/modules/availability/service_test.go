package availability

import (
	"context"
	"testing"
	"time"

	"ark/internal/config"
	"ark/internal/geo"
	"ark/internal/modules/feasibility"
	"ark/internal/modules/schedulestate"
	"ark/internal/modules/slotcatalog"
	"ark/internal/modules/travel"
	"ark/internal/types"
)

type fakeSlotSource struct {
	slots []*slotcatalog.TimeSlot
}

func (f *fakeSlotSource) GetSlotsForDate(ctx context.Context, serviceDate time.Time, direction *slotcatalog.Direction) ([]*slotcatalog.TimeSlot, error) {
	if direction == nil {
		return f.slots, nil
	}
	var out []*slotcatalog.TimeSlot
	for _, s := range f.slots {
		if s.Direction == *direction {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeBatch struct {
	feasible map[types.SlotID]bool
}

func (f *fakeBatch) BatchFeasibilityCheck(ctx context.Context, req feasibility.Request, serviceDate time.Time, direction string, slotIDs []types.SlotID) (map[types.SlotID]feasibility.Decision, error) {
	out := map[types.SlotID]feasibility.Decision{}
	for _, id := range slotIDs {
		if f.feasible[id] {
			out[id] = feasibility.Decision{Feasible: true, RiskLevel: feasibility.RiskLow}
		} else {
			out[id] = feasibility.Decision{Feasible: false}
		}
	}
	return out, nil
}

type fakeConflicts struct {
	conflicting map[types.SlotID]bool
	byArrival   map[time.Time]bool
}

func (f *fakeConflicts) FindConflictingRides(ctx context.Context, riderID types.RiderID, serviceDate, candidateArrival time.Time, bufferMinutes int) ([]*schedulestate.ScheduledRide, error) {
	if f.byArrival[candidateArrival] {
		return []*schedulestate.ScheduledRide{{ID: "existing"}}, nil
	}
	return nil, nil
}

func campusLoc() geo.Location {
	return geo.Location{Lat: 49.8075, Lng: -97.1325}
}

func farLoc() geo.Location {
	return geo.Location{Lat: 49.83, Lng: -97.14}
}

func testService(slots []*slotcatalog.TimeSlot, feasible map[types.SlotID]bool) (*Service, *fakeConflicts) {
	conflicts := &fakeConflicts{byArrival: map[time.Time]bool{}}
	cfg := config.AvailabilityConfig{
		CampusLocation:    campusLoc(),
		CampusRadiusKm:    2.0,
		DesiredWindowMins: 90,
		MaxResults:        10,
	}
	svc := NewService(&fakeSlotSource{slots: slots}, &fakeBatch{feasible: feasible}, conflicts,
		travel.NewModel(travel.DefaultConfig()), cfg)
	return svc, conflicts
}

func testSlot(id string, arrivalStart time.Time, slotType slotcatalog.SlotType, direction slotcatalog.Direction) *slotcatalog.TimeSlot {
	return &slotcatalog.TimeSlot{
		ID:                  types.SlotID(id),
		ServiceDate:         time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Direction:           direction,
		SlotType:            slotType,
		ArrivalStart:        arrivalStart,
		ArrivalEnd:          arrivalStart.Add(5 * time.Minute),
		MaxRidersPremium:    2,
		MaxRidersNonPremium: 2,
	}
}

func TestGetAvailableArrivalWindows_InfersDirectionAndRanksByProximity(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	s1 := testSlot("s1", date.Add(8*time.Hour), slotcatalog.SlotTypePeak, slotcatalog.DirectionHomeToCampus)
	s2 := testSlot("s2", date.Add(8*time.Hour+30*time.Minute), slotcatalog.SlotTypePeak, slotcatalog.DirectionHomeToCampus)
	wrongDirection := testSlot("s3", date.Add(8*time.Hour+15*time.Minute), slotcatalog.SlotTypePeak, slotcatalog.DirectionCampusToHome)

	svc, _ := testService([]*slotcatalog.TimeSlot{s1, s2, wrongDirection}, map[types.SlotID]bool{"s1": true, "s2": true, "s3": true})

	windows, err := svc.GetAvailableArrivalWindows(context.Background(), Query{
		RiderID:        "rider-1",
		ServiceDate:    date,
		OriginLoc:      farLoc(),
		DestLoc:        campusLoc(),
		PlanType:       types.PlanPremium,
		DesiredArrival: date.Add(8 * time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows from the inferred direction, got %d", len(windows))
	}
	if windows[0].SlotID != "s1" {
		t.Fatalf("expected s1 first (closest to desired arrival), got %s", windows[0].SlotID)
	}
}

func TestGetAvailableArrivalWindows_NonPremiumExcludesPeakSlots(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	peak := testSlot("peak", date.Add(8*time.Hour), slotcatalog.SlotTypePeak, slotcatalog.DirectionHomeToCampus)
	offPeak := testSlot("off", date.Add(8*time.Hour+10*time.Minute), slotcatalog.SlotTypeOffPeak, slotcatalog.DirectionHomeToCampus)

	svc, _ := testService([]*slotcatalog.TimeSlot{peak, offPeak}, map[types.SlotID]bool{"peak": true, "off": true})

	windows, err := svc.GetAvailableArrivalWindows(context.Background(), Query{
		RiderID:     "rider-1",
		ServiceDate: date,
		OriginLoc:   farLoc(),
		DestLoc:     campusLoc(),
		PlanType:    types.PlanStandard,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 1 || windows[0].SlotID != "off" {
		t.Fatalf("expected only the off_peak slot, got %+v", windows)
	}
}

func TestGetAvailableArrivalWindows_DropsInfeasibleSlots(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ok := testSlot("ok", date.Add(8*time.Hour), slotcatalog.SlotTypePeak, slotcatalog.DirectionHomeToCampus)
	bad := testSlot("bad", date.Add(8*time.Hour+5*time.Minute), slotcatalog.SlotTypePeak, slotcatalog.DirectionHomeToCampus)

	svc, _ := testService([]*slotcatalog.TimeSlot{ok, bad}, map[types.SlotID]bool{"ok": true, "bad": false})

	windows, err := svc.GetAvailableArrivalWindows(context.Background(), Query{
		RiderID:     "rider-1",
		ServiceDate: date,
		OriginLoc:   farLoc(),
		DestLoc:     campusLoc(),
		PlanType:    types.PlanPremium,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 1 || windows[0].SlotID != "ok" {
		t.Fatalf("expected only the feasible slot, got %+v", windows)
	}
}

func TestGetAvailableArrivalWindows_DropsFullSlots(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	full := testSlot("full", date.Add(8*time.Hour), slotcatalog.SlotTypePeak, slotcatalog.DirectionHomeToCampus)
	full.UsedRidersPremium = full.MaxRidersPremium

	svc, _ := testService([]*slotcatalog.TimeSlot{full}, map[types.SlotID]bool{"full": true})

	windows, err := svc.GetAvailableArrivalWindows(context.Background(), Query{
		RiderID:     "rider-1",
		ServiceDate: date,
		OriginLoc:   farLoc(),
		DestLoc:     campusLoc(),
		PlanType:    types.PlanPremium,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 0 {
		t.Fatalf("expected no windows from a full slot, got %+v", windows)
	}
}

func TestGetAvailableWindowsForRider_RemovesConflictingArrival(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	s1 := testSlot("s1", date.Add(8*time.Hour), slotcatalog.SlotTypePeak, slotcatalog.DirectionHomeToCampus)
	s2 := testSlot("s2", date.Add(9*time.Hour), slotcatalog.SlotTypePeak, slotcatalog.DirectionHomeToCampus)

	svc, conflicts := testService([]*slotcatalog.TimeSlot{s1, s2}, map[types.SlotID]bool{"s1": true, "s2": true})
	conflicts.byArrival[s1.ArrivalStart] = true

	windows, err := svc.GetAvailableWindowsForRider(context.Background(), Query{
		RiderID:     "rider-1",
		ServiceDate: date,
		OriginLoc:   farLoc(),
		DestLoc:     campusLoc(),
		PlanType:    types.PlanPremium,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 1 || windows[0].SlotID != "s2" {
		t.Fatalf("expected only the non-conflicting window, got %+v", windows)
	}
}
