// README: CapacityPlanner composes SlotCatalog's per-slot counters into
// system-wide hourly/daily budgets and balances non-Premium headroom.
package capacity

import (
	"context"
	"sort"
	"time"

	"ark/internal/config"
	"ark/internal/modules/slotcatalog"
	"ark/internal/types"
)

// SlotSource is the subset of slotcatalog.Service CapacityPlanner depends on.
type SlotSource interface {
	GetSlotsForDate(ctx context.Context, serviceDate time.Time, direction *slotcatalog.Direction) ([]*slotcatalog.TimeSlot, error)
	UpdateSlotMaxNonPremium(ctx context.Context, id types.SlotID, max int) error
}

// SubscriberCounter persists the process-wide Premium subscriber ceiling.
type SubscriberCounter interface {
	Count(ctx context.Context) (int, error)
	TryIncrement(ctx context.Context, ceiling int) (bool, error)
}

type Service struct {
	slots SlotSource
	subs  SubscriberCounter
	cfg   config.CapacityConfig
}

func NewService(slots SlotSource, subs SubscriberCounter, cfg config.CapacityConfig) *Service {
	return &Service{slots: slots, subs: subs, cfg: cfg}
}

// CanAddPremiumSubscriber reports whether the subscriber ceiling has room.
func (s *Service) CanAddPremiumSubscriber(ctx context.Context) (bool, error) {
	count, err := s.subs.Count(ctx)
	if err != nil {
		return false, err
	}
	return count < s.cfg.MaxPremiumSubscribers, nil
}

// AddPremiumSubscriber atomically claims one subscriber slot. Returns false
// without error if the ceiling was already reached by a concurrent caller.
func (s *Service) AddPremiumSubscriber(ctx context.Context) (bool, error) {
	return s.subs.TryIncrement(ctx, s.cfg.MaxPremiumSubscribers)
}

// ComputeDailyCapacity summarizes the day's Premium/non-Premium budgets.
func (s *Service) ComputeDailyCapacity(ctx context.Context, serviceDate time.Time) (DailyCapacity, error) {
	slots, err := s.slots.GetSlotsForDate(ctx, serviceDate, nil)
	if err != nil {
		return DailyCapacity{}, err
	}

	premiumUsedToday := 0
	for _, slot := range slots {
		premiumUsedToday += slot.UsedRidersPremium
	}

	premiumCapacity, err := s.subs.Count(ctx)
	if err != nil {
		return DailyCapacity{}, err
	}
	if premiumCapacity > s.cfg.MaxPremiumSubscribers {
		premiumCapacity = s.cfg.MaxPremiumSubscribers
	}

	dailyBudget := s.cfg.MaxRidesPerDay - premiumUsedToday
	if dailyBudget < 0 {
		dailyBudget = 0
	}

	return DailyCapacity{
		ServiceDate:            serviceDate,
		PremiumCapacity:        premiumCapacity,
		NonPremiumHourlyBudget: s.cfg.MaxRidesPerHour,
		NonPremiumDailyBudget:  dailyBudget,
	}, nil
}

// CheckHourlyCapacity reports whether the shared hourly ride ceiling still
// has room at serviceDate/hour, across both plan tiers.
func (s *Service) CheckHourlyCapacity(ctx context.Context, serviceDate time.Time, hour int) (bool, error) {
	slots, err := s.slots.GetSlotsForDate(ctx, serviceDate, nil)
	if err != nil {
		return false, err
	}
	used := 0
	for _, slot := range slots {
		if slot.ArrivalStart.Hour() == hour {
			used += slot.UsedRidersPremium + slot.UsedRidersNonPremium
		}
	}
	return used < s.cfg.MaxRidesPerHour, nil
}

// CheckDailyCapacity reports whether the shared daily ride ceiling still has
// room at serviceDate, across both plan tiers.
func (s *Service) CheckDailyCapacity(ctx context.Context, serviceDate time.Time) (bool, error) {
	slots, err := s.slots.GetSlotsForDate(ctx, serviceDate, nil)
	if err != nil {
		return false, err
	}
	used := 0
	for _, slot := range slots {
		used += slot.UsedRidersPremium + slot.UsedRidersNonPremium
	}
	return used < s.cfg.MaxRidesPerDay, nil
}

// CanAddPremiumRide and CanAddNonPremiumRide compose the hourly/daily gates.
// Tier-specific eligibility (fragile slots, off-peak-only) is SlotCatalog's
// responsibility; these predicates only guard the shared throughput ceiling.
func (s *Service) CanAddPremiumRide(ctx context.Context, serviceDate time.Time, hour int) (bool, error) {
	return s.canAddRide(ctx, serviceDate, hour)
}

func (s *Service) CanAddNonPremiumRide(ctx context.Context, serviceDate time.Time, hour int) (bool, error) {
	return s.canAddRide(ctx, serviceDate, hour)
}

func (s *Service) canAddRide(ctx context.Context, serviceDate time.Time, hour int) (bool, error) {
	hourly, err := s.CheckHourlyCapacity(ctx, serviceDate, hour)
	if err != nil || !hourly {
		return false, err
	}
	return s.CheckDailyCapacity(ctx, serviceDate)
}

// AutoBalanceNonPremiumCapacity spreads the day's non-Premium budget across
// off-peak slots, preferring the least-utilized slots first and never
// lowering a slot's ceiling below its current usage.
func (s *Service) AutoBalanceNonPremiumCapacity(ctx context.Context, serviceDate time.Time) error {
	slots, err := s.slots.GetSlotsForDate(ctx, serviceDate, nil)
	if err != nil {
		return err
	}

	premiumUsedToday := 0
	var offPeak []*slotcatalog.TimeSlot
	for _, slot := range slots {
		premiumUsedToday += slot.UsedRidersPremium
		if slot.SlotType == slotcatalog.SlotTypeOffPeak {
			offPeak = append(offPeak, slot)
		}
	}

	dailyBudget := s.cfg.MaxRidesPerDay - premiumUsedToday
	if dailyBudget < 0 {
		dailyBudget = 0
	}

	sort.Slice(offPeak, func(i, j int) bool {
		if offPeak[i].UsedRidersNonPremium != offPeak[j].UsedRidersNonPremium {
			return offPeak[i].UsedRidersNonPremium < offPeak[j].UsedRidersNonPremium
		}
		return offPeak[i].ArrivalStart.Before(offPeak[j].ArrivalStart)
	})

	hourlyAssigned := map[int]int{}
	remaining := dailyBudget
	for _, slot := range offPeak {
		hour := slot.ArrivalStart.Hour()
		desired := slot.UsedRidersNonPremium
		if remaining > 0 && hourlyAssigned[hour] < s.cfg.MaxRidesPerHour {
			if desired < 1 {
				desired = 1
			}
			hourlyAssigned[hour]++
			remaining--
		}
		if desired == slot.MaxRidersNonPremium {
			continue
		}
		if err := s.slots.UpdateSlotMaxNonPremium(ctx, slot.ID, desired); err != nil {
			return err
		}
	}
	return nil
}
