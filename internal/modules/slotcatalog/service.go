// README: Service generates and mutates the slot catalog. Capacity
// reserve/release delegate to Store, which applies them through a
// Lua-scripted check-and-increment on a Redis hash per slot and then writes
// the counter to the slot's Postgres row.
package slotcatalog

import (
	"context"
	"time"

	"ark/internal/apperr"
	"ark/internal/config"
	"ark/internal/types"
)

const slotWindowMinutes = 5

type Service struct {
	store    *Store
	schedule config.ScheduleConfig
}

func NewService(store *Store, schedule config.ScheduleConfig) *Service {
	return &Service{store: store, schedule: schedule}
}

// InitializeSlotsForDate generates one slot per slotWindowMinutes window,
// per requested direction, spanning the full service day. Existing slots
// for (date, direction) are left untouched — safe to call repeatedly while
// onboarding new directions for a date already initialized.
func (s *Service) InitializeSlotsForDate(ctx context.Context, serviceDate time.Time, directions []Direction) error {
	dayStart := time.Date(serviceDate.Year(), serviceDate.Month(), serviceDate.Day(), 0, 0, 0, 0, serviceDate.Location())

	for _, dir := range directions {
		existing, err := s.store.GetSlotsForDate(ctx, dayStart, &dir)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}

		slots := make([]*TimeSlot, 0, (24*60)/slotWindowMinutes)
		for offset := 0; offset < 24*60; offset += slotWindowMinutes {
			start := dayStart.Add(time.Duration(offset) * time.Minute)
			end := start.Add(slotWindowMinutes * time.Minute)
			sinceMidnight := time.Duration(offset) * time.Minute
			slotType := SlotTypeOffPeak
			if s.schedule.PeakMorning.Contains(sinceMidnight) || s.schedule.PeakEvening.Contains(sinceMidnight) {
				slotType = SlotTypePeak
			}
			slots = append(slots, &TimeSlot{
				ID:                  BuildSlotID(dayStart, dir, start),
				ServiceDate:         dayStart,
				Direction:           dir,
				SlotType:            slotType,
				ArrivalStart:        start,
				ArrivalEnd:          end,
				MaxRidersPremium:    1,
				MaxRidersNonPremium: 0,
			})
		}
		if err := s.store.InsertSlots(ctx, slots); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetSlotsForDate(ctx context.Context, serviceDate time.Time, direction *Direction) ([]*TimeSlot, error) {
	return s.store.GetSlotsForDate(ctx, serviceDate, direction)
}

func (s *Service) GetSlotByID(ctx context.Context, id types.SlotID) (*TimeSlot, error) {
	slot, err := s.store.GetSlotByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, apperr.New(apperr.CodeNotFound, "slot not found", map[string]any{"slotId": string(id)})
	}
	return slot, nil
}

// ReserveSlotCapacity atomically increments the relevant used-rider counter
// if capacity allows, returning false (no error) when the slot is full,
// fragile-blocked, or off-peak-only against a peak slot.
func (s *Service) ReserveSlotCapacity(ctx context.Context, id types.SlotID, isPremium bool) (bool, error) {
	return s.store.ReserveCapacity(ctx, id, isPremium)
}

// ReleaseSlotCapacity atomically decrements the relevant used-rider counter,
// clamped at zero. Idempotent against a slot already at zero.
func (s *Service) ReleaseSlotCapacity(ctx context.Context, id types.SlotID, isPremium bool) error {
	return s.store.ReleaseCapacity(ctx, id, isPremium)
}

func (s *Service) SetSlotFragility(ctx context.Context, id types.SlotID, fragile bool) error {
	return s.store.SetFragility(ctx, id, fragile)
}

// UpdateSlotMaxNonPremium sets the non-premium capacity ceiling for a slot.
// It never evicts riders already holding a seat when the new max is lower
// than the current used count — CapacityPlanner decides separately whether
// to release any holds against the new ceiling.
func (s *Service) UpdateSlotMaxNonPremium(ctx context.Context, id types.SlotID, max int) error {
	return s.store.SetMaxNonPremium(ctx, id, max)
}
