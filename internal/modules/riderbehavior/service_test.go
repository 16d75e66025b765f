package riderbehavior

import (
	"context"
	"math/rand"
	"testing"

	"ark/internal/types"
)

type fakeProvider struct {
	agg *Aggregate
	err error
}

func (f *fakeProvider) GetBehaviorStats(ctx context.Context, riderID types.RiderID) (*Aggregate, error) {
	return f.agg, f.err
}

func TestStats_DefaultProfileWhenNoProvider(t *testing.T) {
	m := NewModel(nil)
	stats, err := m.Stats(context.Background(), "r1", 13)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.ExpectedReadyDelay < minWalkToCurbMinutes {
		t.Fatalf("expected delay at or above walk-to-curb floor, got %f", stats.ExpectedReadyDelay)
	}
	if stats.NoShowProbability != defaultNoShowProb {
		t.Fatalf("expected default no-show prob, got %f", stats.NoShowProbability)
	}
}

func TestStats_HistoricalOverrideRequiresFiveRides(t *testing.T) {
	under := &fakeProvider{agg: &Aggregate{RiderID: "r1", CompletedRides: 4, SumDelay: 20, SumDelaySq: 120}}
	m := NewModel(under)
	stats, err := m.Stats(context.Background(), "r1", 13)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.ExpectedReadyDelay != defaultExpectedDelay+timeOfDayAdjustment(13) {
		t.Fatalf("expected default profile below threshold, got %f", stats.ExpectedReadyDelay)
	}

	over := &fakeProvider{agg: &Aggregate{RiderID: "r1", CompletedRides: 5, SumDelay: 25, SumDelaySq: 150, NoShowCount: 1}}
	m2 := NewModel(over)
	stats2, err := m2.Stats(context.Background(), "r1", 13)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantMean := 25.0 / 5.0
	if stats2.ExpectedReadyDelay-timeOfDayAdjustment(13) != wantMean {
		t.Fatalf("expected historical mean %f, got %f", wantMean, stats2.ExpectedReadyDelay-timeOfDayAdjustment(13))
	}
}

func TestStats_PeakHourShiftsExpectedDelayUp(t *testing.T) {
	m := NewModel(nil)
	offPeak, _ := m.Stats(context.Background(), "r1", 13)
	peak, _ := m.Stats(context.Background(), "r1", 8)
	if peak.ExpectedReadyDelay <= offPeak.ExpectedReadyDelay {
		t.Fatalf("expected peak delay (%f) > off-peak delay (%f)", peak.ExpectedReadyDelay, offPeak.ExpectedReadyDelay)
	}
}

func TestSample_ClampedToRange(t *testing.T) {
	m := NewModel(nil)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		res, err := m.Sample(context.Background(), "r1", 13, rng)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.IsNoShow {
			continue
		}
		if res.DelayMinutes < minDelayClamp || res.DelayMinutes > maxDelayClamp {
			t.Fatalf("delay %f outside clamp [%f, %f]", res.DelayMinutes, minDelayClamp, maxDelayClamp)
		}
	}
}

func TestSample_NoShowRateApproximatelyMatchesConfigured(t *testing.T) {
	provider := &fakeProvider{agg: &Aggregate{RiderID: "r1", CompletedRides: 80, NoShowCount: 20, SumDelay: 100, SumDelaySq: 300}}
	m := NewModel(provider)
	rng := rand.New(rand.NewSource(2))
	noShows := 0
	const n = 5000
	for i := 0; i < n; i++ {
		res, err := m.Sample(context.Background(), "r1", 13, rng)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.IsNoShow {
			noShows++
		}
	}
	rate := float64(noShows) / n
	want := 20.0 / 100.0
	if rate < want-0.03 || rate > want+0.03 {
		t.Fatalf("sampled no-show rate %f too far from expected %f", rate, want)
	}
}
