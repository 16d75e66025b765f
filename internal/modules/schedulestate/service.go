// README: ScheduleState composes Store reads into block/slot groupings and
// rider-conflict checks. Every method is read-only.
package schedulestate

import (
	"context"
	"sort"
	"time"

	"ark/internal/config"
	"ark/internal/types"
)

const defaultConflictBufferMinutes = 30

type Service struct {
	store *Store
	cfg   config.ScheduleConfig
}

func NewService(store *Store, cfg config.ScheduleConfig) *Service {
	return &Service{store: store, cfg: cfg}
}

// Rides returns every non-terminal ScheduledRide for serviceDate, sorted by
// arrivalStart.
func (s *Service) Rides(ctx context.Context, serviceDate time.Time) ([]*ScheduledRide, error) {
	rides, err := s.store.GetRidesForDate(ctx, serviceDate)
	if err != nil {
		return nil, err
	}
	active := rides[:0]
	for _, r := range rides {
		if r.Status.IsActive() {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ArrivalStart.Before(active[j].ArrivalStart) })
	return active, nil
}

// GetRidesInTimeBlock filters Rides(serviceDate) to those overlapping [blockStart, blockEnd).
func (s *Service) GetRidesInTimeBlock(ctx context.Context, serviceDate, blockStart, blockEnd time.Time) ([]*ScheduledRide, error) {
	rides, err := s.Rides(ctx, serviceDate)
	if err != nil {
		return nil, err
	}
	var out []*ScheduledRide
	for _, r := range rides {
		if r.ArrivalStart.Before(blockEnd) && r.ArrivalEnd.After(blockStart) {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetActiveHoldsForDate returns all holds in status=active for serviceDate.
func (s *Service) GetActiveHoldsForDate(ctx context.Context, serviceDate time.Time) ([]*SlotHold, error) {
	return s.store.GetActiveHoldsForDate(ctx, serviceDate)
}

// FindConflictingRides reports rides for riderID on serviceDate whose
// arrivalStart falls within bufferMinutes of candidateArrival — a rider may
// not hold two rides that close together.
func (s *Service) FindConflictingRides(ctx context.Context, riderID types.RiderID, serviceDate, candidateArrival time.Time, bufferMinutes int) ([]*ScheduledRide, error) {
	if bufferMinutes <= 0 {
		bufferMinutes = defaultConflictBufferMinutes
	}
	rides, err := s.Rides(ctx, serviceDate)
	if err != nil {
		return nil, err
	}
	buffer := time.Duration(bufferMinutes) * time.Minute
	var out []*ScheduledRide
	for _, r := range rides {
		if r.RiderID != riderID {
			continue
		}
		diff := r.ArrivalStart.Sub(candidateArrival)
		if diff < 0 {
			diff = -diff
		}
		if diff < buffer {
			out = append(out, r)
		}
	}
	return out, nil
}

// blocks returns the day's five named blocks, derived from configured peak
// windows so a reconfigured peak schedule reshapes block boundaries too.
func (s *Service) blocks() []BlockBounds {
	return []BlockBounds{
		{Block: BlockPreDawn, Start: 0, End: s.cfg.PeakMorning.Start},
		{Block: BlockMorningPeak, Start: s.cfg.PeakMorning.Start, End: s.cfg.PeakMorning.End},
		{Block: BlockMidDay, Start: s.cfg.PeakMorning.End, End: s.cfg.PeakEvening.Start},
		{Block: BlockEveningPeak, Start: s.cfg.PeakEvening.Start, End: s.cfg.PeakEvening.End},
		{Block: BlockEvening, Start: s.cfg.PeakEvening.End, End: 24 * time.Hour},
	}
}

// GetBlockForTime returns the enclosing Block plus its absolute [start,end)
// instants on serviceDate.
func (s *Service) GetBlockForTime(serviceDate, t time.Time) (Block, time.Time, time.Time) {
	dayStart := time.Date(serviceDate.Year(), serviceDate.Month(), serviceDate.Day(), 0, 0, 0, 0, serviceDate.Location())
	sinceMidnight := t.Sub(dayStart)
	blocks := s.blocks()
	for _, b := range blocks {
		if sinceMidnight >= b.Start && sinceMidnight < b.End {
			return b.Block, dayStart.Add(b.Start), dayStart.Add(b.End)
		}
	}
	last := blocks[len(blocks)-1]
	return last.Block, dayStart.Add(last.Start), dayStart.Add(last.End)
}
