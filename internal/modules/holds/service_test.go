package holds

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"ark/internal/apperr"
	"ark/internal/clock"
	"ark/internal/config"
	"ark/internal/geo"
	"ark/internal/modules/feasibility"
	"ark/internal/modules/schedulestate"
	"ark/internal/modules/slotcatalog"
	"ark/internal/modules/travel"
	"ark/internal/types"
)

// fakeTravel reports a fixed p95 travel minutes regardless of the requested
// context, so tests can assert the exact pickupTime formula against a known
// input instead of depending on travel.Model's full distribution math.
type fakeTravel struct {
	p95Minutes float64
}

func (f *fakeTravel) P95(ctx travel.TimeContext, origin, dest geo.Location) float64 {
	return f.p95Minutes
}

type fakeSlots struct {
	mu   sync.Mutex
	slot *slotcatalog.TimeSlot
	cap  bool // whether the next ReserveSlotCapacity call succeeds
}

func (f *fakeSlots) GetSlotByID(ctx context.Context, id types.SlotID) (*slotcatalog.TimeSlot, error) {
	return f.slot, nil
}

func (f *fakeSlots) ReserveSlotCapacity(ctx context.Context, id types.SlotID, isPremium bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cap {
		return false, nil
	}
	f.slot.UsedRidersPremium++
	return true, nil
}

func (f *fakeSlots) ReleaseSlotCapacity(ctx context.Context, id types.SlotID, isPremium bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.slot.UsedRidersPremium > 0 {
		f.slot.UsedRidersPremium--
	}
	return nil
}

type fakeFeasibility struct {
	feasible bool
	reason   apperr.Code
}

func (f *fakeFeasibility) QuickFeasibilityCheck(ctx context.Context, slotID types.SlotID, planType types.PlanType) (bool, apperr.Code, error) {
	if !f.feasible {
		return false, f.reason, nil
	}
	return true, "", nil
}

func (f *fakeFeasibility) CanInsertRideIntoSlot(ctx context.Context, req feasibility.InsertRequest) (feasibility.Decision, error) {
	if !f.feasible {
		return feasibility.Decision{Feasible: false, Reason: f.reason}, nil
	}
	return feasibility.Decision{Feasible: true, RiskLevel: feasibility.RiskLow}, nil
}

type fakeHoldStore struct {
	mu    sync.Mutex
	byID  map[types.HoldID]*Hold
	rides []*schedulestate.ScheduledRide
}

func newFakeHoldStore() *fakeHoldStore {
	return &fakeHoldStore{byID: map[types.HoldID]*Hold{}}
}

func (f *fakeHoldStore) InsertHold(ctx context.Context, h *Hold) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *h
	f.byID[h.HoldID] = &cp
	return nil
}

func (f *fakeHoldStore) GetHold(ctx context.Context, holdID types.HoldID) (*Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.byID[holdID]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "hold not found", nil)
	}
	cp := *h
	return &cp, nil
}

func (f *fakeHoldStore) WithHoldLock(ctx context.Context, holdID types.HoldID, fn func(tx pgx.Tx, h *Hold) (*Hold, error)) (*Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.byID[holdID]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "hold not found", nil)
	}
	updated, err := fn(nil, h)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		f.byID[holdID] = updated
	}
	return f.byID[holdID], nil
}

func (f *fakeHoldStore) CancelActiveHoldForRider(ctx context.Context, riderID types.RiderID) (*Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.byID {
		if h.RiderID == riderID && h.Status == schedulestate.HoldStatusActive {
			h.Status = schedulestate.HoldStatusCancelled
			return h, nil
		}
	}
	return nil, nil
}

func (f *fakeHoldStore) ListExpired(ctx context.Context, asOf time.Time) ([]*Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Hold
	for _, h := range f.byID {
		if h.Status == schedulestate.HoldStatusActive && h.ExpiresAt.Before(asOf) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHoldStore) MarkExpired(ctx context.Context, holdID types.HoldID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.byID[holdID]; ok {
		h.Status = schedulestate.HoldStatusExpired
	}
	return nil
}

func (f *fakeHoldStore) InsertScheduledRide(ctx context.Context, tx pgx.Tx, r *schedulestate.ScheduledRide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rides = append(f.rides, r)
	return nil
}

func testManager(slot *slotcatalog.TimeSlot, feasible bool, hasCap bool) (*Manager, *fakeSlots, *fakeHoldStore, *clock.FakeClock) {
	return testManagerWithTravel(slot, feasible, hasCap, 0)
}

func testManagerWithTravel(slot *slotcatalog.TimeSlot, feasible bool, hasCap bool, p95Minutes float64) (*Manager, *fakeSlots, *fakeHoldStore, *clock.FakeClock) {
	slots := &fakeSlots{slot: slot, cap: hasCap}
	fc := &fakeFeasibility{feasible: feasible}
	store := newFakeHoldStore()
	ck := clock.NewFakeClock(time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC))
	cfg := config.ScheduleConfig{HoldExpiryMinutes: 5}
	trvl := &fakeTravel{p95Minutes: p95Minutes}
	return NewManager(store, slots, fc, trvl, ck, cfg), slots, store, ck
}

func testSlot() *slotcatalog.TimeSlot {
	return &slotcatalog.TimeSlot{
		ID:               "slot-1",
		ServiceDate:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		ArrivalStart:     time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		ArrivalEnd:       time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC),
		MaxRidersPremium: 2,
	}
}

func testReq() CreateHoldRequest {
	return CreateHoldRequest{
		RiderID:     "rider-1",
		PlanType:    types.PlanStandard,
		SlotID:      "slot-1",
		ServiceDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Direction:   "home_to_campus",
		OriginLoc:   geo.Location{Lat: 49.8, Lng: -97.1},
		DestLoc:     geo.Location{Lat: 49.81, Lng: -97.13},
	}
}

func TestCreateHold_ReservesCapacityAndPersistsActiveHold(t *testing.T) {
	m, slots, store, _ := testManager(testSlot(), true, true)

	h, err := m.CreateHold(context.Background(), testReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Status != schedulestate.HoldStatusActive {
		t.Fatalf("expected active hold, got %s", h.Status)
	}
	if slots.slot.UsedRidersPremium != 1 {
		t.Fatalf("expected capacity reserved, got used=%d", slots.slot.UsedRidersPremium)
	}
	if _, ok := store.byID[h.HoldID]; !ok {
		t.Fatalf("expected hold persisted")
	}
}

func TestCreateHold_InfeasibleNeverReservesCapacity(t *testing.T) {
	m, slots, _, _ := testManager(testSlot(), false, true)

	_, err := m.CreateHold(context.Background(), testReq())
	if err == nil {
		t.Fatalf("expected an error")
	}
	if slots.slot.UsedRidersPremium != 0 {
		t.Fatalf("expected no capacity reserved, got used=%d", slots.slot.UsedRidersPremium)
	}
}

func TestCreateHold_NoCapacityReturnsError(t *testing.T) {
	m, _, store, _ := testManager(testSlot(), true, false)

	_, err := m.CreateHold(context.Background(), testReq())
	if apperr.CodeOf(err) != apperr.CodeNoCapacity {
		t.Fatalf("expected NO_CAPACITY, got %v", err)
	}
	if len(store.byID) != 0 {
		t.Fatalf("expected no hold persisted on failed reservation")
	}
}

func TestCreateHold_CancelsExistingActiveHoldForRider(t *testing.T) {
	m, _, store, _ := testManager(testSlot(), true, true)
	ctx := context.Background()

	first, err := m.CreateHold(ctx, testReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := m.CreateHold(ctx, testReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.HoldID == first.HoldID {
		t.Fatalf("expected a fresh hold id")
	}
	if store.byID[first.HoldID].Status != schedulestate.HoldStatusCancelled {
		t.Fatalf("expected the first hold cancelled, got %s", store.byID[first.HoldID].Status)
	}
}

func TestConfirmHold_CreatesScheduledRideAndMarksConfirmed(t *testing.T) {
	m, _, store, _ := testManager(testSlot(), true, true)
	ctx := context.Background()

	h, err := m.CreateHold(ctx, testReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ride, err := m.ConfirmHold(ctx, h.HoldID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ride.RiderID != h.RiderID {
		t.Fatalf("expected ride for the holding rider")
	}
	if store.byID[h.HoldID].Status != schedulestate.HoldStatusConfirmed {
		t.Fatalf("expected confirmed status, got %s", store.byID[h.HoldID].Status)
	}
	if len(store.rides) != 1 {
		t.Fatalf("expected 1 scheduled ride, got %d", len(store.rides))
	}
}

// TestConfirmHold_PickupTimeMatchesArrivalEndMinusP95MinusFiveMinutes pins
// down the E1 happy-path formula: pickupTime = arrivalEnd - p95Travel - 5min.
func TestConfirmHold_PickupTimeMatchesArrivalEndMinusP95MinusFiveMinutes(t *testing.T) {
	slot := testSlot() // ArrivalEnd = 2026-03-02 08:05 UTC
	m, _, store, _ := testManagerWithTravel(slot, true, true, 12.0)
	ctx := context.Background()

	h, err := m.CreateHold(ctx, testReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ride, err := m.ConfirmHold(ctx, h.HoldID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := slot.ArrivalEnd.Add(-12*time.Minute - 5*time.Minute)
	if !ride.PickupTime.Equal(want) {
		t.Fatalf("expected pickupTime %v, got %v", want, ride.PickupTime)
	}
	if !ride.PickupWindowStart.Equal(want.Add(-5 * time.Minute)) {
		t.Fatalf("expected pickup window start %v, got %v", want.Add(-5*time.Minute), ride.PickupWindowStart)
	}
	if !ride.PickupWindowEnd.Equal(want.Add(5 * time.Minute)) {
		t.Fatalf("expected pickup window end %v, got %v", want.Add(5*time.Minute), ride.PickupWindowEnd)
	}
	if ride.HoldID != h.HoldID {
		t.Fatalf("expected ride to carry its originating hold id")
	}
	if len(store.rides) != 1 || store.rides[0].PickupTime != ride.PickupTime {
		t.Fatalf("expected the persisted ride to carry the same pickupTime")
	}
}

func TestConfirmHold_RejectsExpiredHold(t *testing.T) {
	m, _, store, ck := testManager(testSlot(), true, true)
	ctx := context.Background()

	h, err := m.CreateHold(ctx, testReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ck.Advance(10 * time.Minute)
	_, err = m.ConfirmHold(ctx, h.HoldID)
	if apperr.CodeOf(err) != apperr.CodeExpired {
		t.Fatalf("expected EXPIRED, got %v", err)
	}
	if len(store.rides) != 0 {
		t.Fatalf("expected no ride created for an expired hold")
	}
}

func TestCancelHold_ReleasesCapacity(t *testing.T) {
	m, slots, store, _ := testManager(testSlot(), true, true)
	ctx := context.Background()

	h, err := m.CreateHold(ctx, testReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.CancelHold(ctx, h.HoldID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots.slot.UsedRidersPremium != 0 {
		t.Fatalf("expected capacity released, got used=%d", slots.slot.UsedRidersPremium)
	}
	if store.byID[h.HoldID].Status != schedulestate.HoldStatusCancelled {
		t.Fatalf("expected cancelled status")
	}
}

func TestExpireHolds_ReleasesCapacityForEveryExpiredHold(t *testing.T) {
	m, slots, store, ck := testManager(testSlot(), true, true)
	ctx := context.Background()

	if _, err := m.CreateHold(ctx, testReq()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ck.Advance(10 * time.Minute)
	n, err := m.ExpireHolds(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 hold expired, got %d", n)
	}
	if slots.slot.UsedRidersPremium != 0 {
		t.Fatalf("expected capacity released, got used=%d", slots.slot.UsedRidersPremium)
	}
	for _, h := range store.byID {
		if h.Status != schedulestate.HoldStatusExpired {
			t.Fatalf("expected all holds expired, got %s", h.Status)
		}
	}
}
