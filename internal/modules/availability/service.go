// README: Availability — ranks SlotCatalog's slots into a rider-facing list
// of feasible arrival windows, filtered by plan tier and conflicts.
package availability

import (
	"context"
	"math"
	"sort"
	"time"

	"ark/internal/config"
	"ark/internal/geo"
	"ark/internal/modules/feasibility"
	"ark/internal/modules/schedulestate"
	"ark/internal/modules/slotcatalog"
	"ark/internal/modules/travel"
	"ark/internal/types"
)

type SlotSource interface {
	GetSlotsForDate(ctx context.Context, serviceDate time.Time, direction *slotcatalog.Direction) ([]*slotcatalog.TimeSlot, error)
}

type FeasibilityBatch interface {
	BatchFeasibilityCheck(ctx context.Context, req feasibility.Request, serviceDate time.Time, direction string, slotIDs []types.SlotID) (map[types.SlotID]feasibility.Decision, error)
}

type ConflictSource interface {
	FindConflictingRides(ctx context.Context, riderID types.RiderID, serviceDate, candidateArrival time.Time, bufferMinutes int) ([]*schedulestate.ScheduledRide, error)
}

type Service struct {
	slots       SlotSource
	feasibility FeasibilityBatch
	conflicts   ConflictSource
	travel      *travel.Model
	cfg         config.AvailabilityConfig
}

func NewService(slots SlotSource, feasibility FeasibilityBatch, conflicts ConflictSource, travelModel *travel.Model, cfg config.AvailabilityConfig) *Service {
	return &Service{slots: slots, feasibility: feasibility, conflicts: conflicts, travel: travelModel, cfg: cfg}
}

// inferDirection picks the commute direction from endpoint geography: the
// endpoint within CampusRadiusKm of campus names which leg is "to campus".
func (s *Service) inferDirection(origin, dest geo.Location) slotcatalog.Direction {
	campus := s.cfg.CampusLocation
	radius := s.cfg.CampusRadiusKm
	if geo.HaversineKm(origin, campus) <= radius {
		return slotcatalog.DirectionCampusToHome
	}
	if geo.HaversineKm(dest, campus) <= radius {
		return slotcatalog.DirectionHomeToCampus
	}
	return slotcatalog.DirectionOther
}

// GetAvailableArrivalWindows runs the full ranking pipeline: direction
// inference, plan-tier slot filtering, desired-time proximity, capacity,
// batch feasibility, pickup-time estimation, then sort and truncate to the
// configured top result count.
func (s *Service) GetAvailableArrivalWindows(ctx context.Context, q Query) ([]Window, error) {
	direction := s.inferDirection(q.OriginLoc, q.DestLoc)

	slots, err := s.slots.GetSlotsForDate(ctx, q.ServiceDate, &direction)
	if err != nil {
		return nil, err
	}

	isPremium := q.PlanType.IsPremium()
	var candidates []*slotcatalog.TimeSlot
	for _, slot := range slots {
		if !isPremium && slot.SlotType != slotcatalog.SlotTypeOffPeak {
			continue
		}
		if hasDesiredArrival(q) {
			diff := slot.ArrivalStart.Sub(q.DesiredArrival)
			if diff < 0 {
				diff = -diff
			}
			if diff > time.Duration(s.cfg.DesiredWindowMins)*time.Minute {
				continue
			}
		}
		if !slot.HasAvailability(isPremium) {
			continue
		}
		candidates = append(candidates, slot)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	slotIDs := make([]types.SlotID, len(candidates))
	for i, slot := range candidates {
		slotIDs[i] = slot.ID
	}

	decisions, err := s.feasibility.BatchFeasibilityCheck(ctx, feasibility.Request{
		RiderID:   q.RiderID,
		PlanType:  q.PlanType,
		OriginLoc: q.OriginLoc,
		DestLoc:   q.DestLoc,
	}, q.ServiceDate, string(direction), slotIDs)
	if err != nil {
		return nil, err
	}

	var windows []Window
	for _, slot := range candidates {
		decision, ok := decisions[slot.ID]
		if !ok || !decision.Feasible {
			continue
		}
		tctx := travel.TimeContext{Date: q.ServiceDate, Time: slot.ArrivalStart, DayOfWeek: slot.ArrivalStart.Weekday()}
		p95Minutes := s.travel.P95(tctx, q.OriginLoc, q.DestLoc)
		estimatedPickup := slot.ArrivalEnd.Add(-time.Duration(p95Minutes*float64(time.Minute)) - 5*time.Minute)

		windows = append(windows, Window{
			SlotID:              slot.ID,
			ArrivalStart:        slot.ArrivalStart,
			ArrivalEnd:          slot.ArrivalEnd,
			RiskLevel:           decision.RiskLevel,
			EstimatedPickupTime: estimatedPickup,
		})
	}

	sortWindows(windows, q.DesiredArrival)
	if len(windows) > s.cfg.MaxResults {
		windows = windows[:s.cfg.MaxResults]
	}
	return windows, nil
}

// GetAvailableWindowsForRider additionally drops windows whose arrival
// collides with one of riderID's existing rides.
func (s *Service) GetAvailableWindowsForRider(ctx context.Context, q Query) ([]Window, error) {
	windows, err := s.GetAvailableArrivalWindows(ctx, q)
	if err != nil || len(windows) == 0 {
		return windows, err
	}

	var out []Window
	for _, w := range windows {
		conflicts, err := s.conflicts.FindConflictingRides(ctx, q.RiderID, q.ServiceDate, w.ArrivalStart, 0)
		if err != nil {
			return nil, err
		}
		if len(conflicts) == 0 {
			out = append(out, w)
		}
	}
	return out, nil
}

var riskOrder = map[feasibility.RiskLevel]int{
	feasibility.RiskLow:    0,
	feasibility.RiskMedium: 1,
	feasibility.RiskHigh:   2,
}

// sortWindows orders by proximity to desiredArrival (ties broken by risk
// level ascending); with no desired time, orders purely by risk level.
func sortWindows(windows []Window, desiredArrival time.Time) {
	hasDesired := !desiredArrival.IsZero()
	sort.Slice(windows, func(i, j int) bool {
		if hasDesired {
			di := math.Abs(float64(windows[i].ArrivalStart.Sub(desiredArrival)))
			dj := math.Abs(float64(windows[j].ArrivalStart.Sub(desiredArrival)))
			if di != dj {
				return di < dj
			}
		}
		return riskOrder[windows[i].RiskLevel] < riskOrder[windows[j].RiskLevel]
	})
}
