// README: HoldManager — reserves a slot's capacity for a rider, then either
// confirms it into a ScheduledRide or releases it back to the pool. Capacity
// is always released on every terminal path except confirm, where it stays
// consumed (logically moved from "held" to "booked").
package holds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
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

type SlotCapacity interface {
	GetSlotByID(ctx context.Context, id types.SlotID) (*slotcatalog.TimeSlot, error)
	ReserveSlotCapacity(ctx context.Context, id types.SlotID, isPremium bool) (bool, error)
	ReleaseSlotCapacity(ctx context.Context, id types.SlotID, isPremium bool) error
}

type FeasibilityChecker interface {
	QuickFeasibilityCheck(ctx context.Context, slotID types.SlotID, planType types.PlanType) (bool, apperr.Code, error)
	CanInsertRideIntoSlot(ctx context.Context, req feasibility.InsertRequest) (feasibility.Decision, error)
}

// TravelEstimator gives ConfirmHold the same p95 travel-time estimate
// availability.Service uses to rank windows, so a confirmed ride's pickup
// time is derived from the identical model that quoted it. *travel.Model
// satisfies this directly.
type TravelEstimator interface {
	P95(ctx travel.TimeContext, origin, dest geo.Location) float64
}

// HoldStore is kept separate from SlotCapacity/FeasibilityChecker so the
// read-only collaborators never need the write surface.
type HoldStore interface {
	InsertHold(ctx context.Context, h *Hold) error
	GetHold(ctx context.Context, holdID types.HoldID) (*Hold, error)
	WithHoldLock(ctx context.Context, holdID types.HoldID, fn func(tx pgx.Tx, h *Hold) (*Hold, error)) (*Hold, error)
	CancelActiveHoldForRider(ctx context.Context, riderID types.RiderID) (*Hold, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]*Hold, error)
	MarkExpired(ctx context.Context, holdID types.HoldID) error
	InsertScheduledRide(ctx context.Context, tx pgx.Tx, r *schedulestate.ScheduledRide) error
}

type Manager struct {
	store       HoldStore
	slots       SlotCapacity
	feasibility FeasibilityChecker
	travel      TravelEstimator
	clock       clock.Clock
	cfg         config.ScheduleConfig
}

func NewManager(store HoldStore, slots SlotCapacity, feasibility FeasibilityChecker, travelModel TravelEstimator, c clock.Clock, cfg config.ScheduleConfig) *Manager {
	return &Manager{store: store, slots: slots, feasibility: feasibility, travel: travelModel, clock: c, cfg: cfg}
}

// CreateHold cancels any existing active hold for the rider, re-checks
// feasibility, reserves the slot's capacity, and persists a new active hold.
func (m *Manager) CreateHold(ctx context.Context, req CreateHoldRequest) (*Hold, error) {
	previous, err := m.store.CancelActiveHoldForRider(ctx, req.RiderID)
	if err != nil {
		return nil, fmt.Errorf("cancel existing hold: %w", err)
	}
	if previous != nil {
		if err := m.slots.ReleaseSlotCapacity(ctx, previous.SlotID, previous.PlanType.IsPremium()); err != nil {
			return nil, fmt.Errorf("release capacity for cancelled hold %s: %w", previous.HoldID, err)
		}
	}

	ok, reason, err := m.feasibility.QuickFeasibilityCheck(ctx, req.SlotID, req.PlanType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(reason, "slot is not feasible for this plan", nil)
	}

	decision, err := m.feasibility.CanInsertRideIntoSlot(ctx, feasibility.InsertRequest{
		Request: feasibility.Request{
			RiderID:   req.RiderID,
			PlanType:  req.PlanType,
			OriginLoc: req.OriginLoc,
			DestLoc:   req.DestLoc,
		},
		ServiceDate: req.ServiceDate,
		SlotID:      req.SlotID,
		Direction:   req.Direction,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Feasible {
		return nil, apperr.New(decision.Reason, "candidate ride is not feasible in this slot", nil)
	}

	reserved, err := m.slots.ReserveSlotCapacity(ctx, req.SlotID, req.PlanType.IsPremium())
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, apperr.New(apperr.CodeNoCapacity, "slot capacity was taken before the hold could be reserved", nil)
	}

	now := m.clock.Now()
	h := &Hold{
		HoldID:    types.HoldID(uuid.NewString()),
		SlotID:    req.SlotID,
		RiderID:   req.RiderID,
		PlanType:  req.PlanType,
		OriginLoc: req.OriginLoc,
		DestLoc:   req.DestLoc,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(m.cfg.HoldExpiryMinutes) * time.Minute),
		Status:    schedulestate.HoldStatusActive,
	}
	if err := m.store.InsertHold(ctx, h); err != nil {
		if releaseErr := m.slots.ReleaseSlotCapacity(ctx, req.SlotID, req.PlanType.IsPremium()); releaseErr != nil {
			return nil, fmt.Errorf("insert hold: %w (capacity release also failed: %v)", err, releaseErr)
		}
		return nil, fmt.Errorf("insert hold: %w", err)
	}
	return h, nil
}

// ConfirmHold locks holdID, rejects it if not active or already expired, and
// turns it into a ScheduledRide. The slot's reserved capacity carries over
// unchanged — only its accounting label moves from held to booked.
func (m *Manager) ConfirmHold(ctx context.Context, holdID types.HoldID) (*schedulestate.ScheduledRide, error) {
	var ride *schedulestate.ScheduledRide

	_, err := m.store.WithHoldLock(ctx, holdID, func(tx pgx.Tx, h *Hold) (*Hold, error) {
		if h.Status != schedulestate.HoldStatusActive {
			return nil, apperr.New(apperr.CodeWrongStatus, "hold is not active", map[string]any{"status": h.Status})
		}
		if m.clock.Now().After(h.ExpiresAt) {
			return nil, apperr.New(apperr.CodeExpired, "hold has expired", nil)
		}

		slot, err := m.slots.GetSlotByID(ctx, h.SlotID)
		if err != nil {
			return nil, err
		}

		tctx := travel.TimeContext{Date: slot.ServiceDate, Time: slot.ArrivalStart, DayOfWeek: slot.ArrivalStart.Weekday()}
		p95Minutes := m.travel.P95(tctx, h.OriginLoc, h.DestLoc)
		pickupTime := slot.ArrivalEnd.Add(-time.Duration(p95Minutes*float64(time.Minute)) - 5*time.Minute)

		r := &schedulestate.ScheduledRide{
			ID:                types.RideID(uuid.NewString()),
			RiderID:           h.RiderID,
			ServiceDate:       slot.ServiceDate,
			SlotID:            h.SlotID,
			PlanType:          h.PlanType,
			ArrivalStart:      slot.ArrivalStart,
			ArrivalEnd:        slot.ArrivalEnd,
			OriginLoc:         schedulestate.Location{Lat: h.OriginLoc.Lat, Lng: h.OriginLoc.Lng},
			DestLoc:           schedulestate.Location{Lat: h.DestLoc.Lat, Lng: h.DestLoc.Lng},
			HoldID:            h.HoldID,
			PickupTime:        pickupTime,
			PickupWindowStart: pickupTime.Add(-5 * time.Minute),
			PickupWindowEnd:   pickupTime.Add(5 * time.Minute),
			PredictedArrival:  &slot.ArrivalEnd,
			Status:            schedulestate.RideStatusScheduled,
		}
		if err := m.store.InsertScheduledRide(ctx, tx, r); err != nil {
			return nil, err
		}
		ride = r

		confirmed := *h
		confirmed.Status = schedulestate.HoldStatusConfirmed
		return &confirmed, nil
	})
	if err != nil {
		return nil, err
	}
	return ride, nil
}

// CancelHold marks holdID cancelled and releases its reserved capacity.
func (m *Manager) CancelHold(ctx context.Context, holdID types.HoldID) error {
	updated, err := m.store.WithHoldLock(ctx, holdID, func(tx pgx.Tx, h *Hold) (*Hold, error) {
		if h.isTerminal() {
			return nil, apperr.New(apperr.CodeWrongStatus, "hold is not active", map[string]any{"status": h.Status})
		}
		cancelled := *h
		cancelled.Status = schedulestate.HoldStatusCancelled
		return &cancelled, nil
	})
	if err != nil {
		return err
	}
	return m.slots.ReleaseSlotCapacity(ctx, updated.SlotID, updated.PlanType.IsPremium())
}

// ExpireHolds marks every active hold past its expiry as expired and
// releases its capacity. Meant to run on a periodic timer. Returns the
// number of holds expired.
func (m *Manager) ExpireHolds(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, h := range expired {
		expiredNow := false
		if _, err := m.store.WithHoldLock(ctx, h.HoldID, func(tx pgx.Tx, cur *Hold) (*Hold, error) {
			if cur.isTerminal() {
				return nil, nil
			}
			expiredNow = true
			next := *cur
			next.Status = schedulestate.HoldStatusExpired
			return &next, nil
		}); err != nil {
			return count, fmt.Errorf("mark hold %s expired: %w", h.HoldID, err)
		}
		if !expiredNow {
			continue
		}
		if err := m.slots.ReleaseSlotCapacity(ctx, h.SlotID, h.PlanType.IsPremium()); err != nil {
			return count, fmt.Errorf("release capacity for hold %s: %w", h.HoldID, err)
		}
		count++
	}
	return count, nil
}
