// README: MonteCarloSimulator domain types — job lifecycle and the
// aggregate statistics `runAndSaveSimulation` produces.
package montecarlo

import (
	"time"

	"ark/internal/modules/slotcatalog"
	"ark/internal/modules/travel"
	"ark/internal/types"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Scenario parameterizes one simulation run: which direction's block of
// rides to replay and how much variance to sample around the deterministic
// travel-time mean.
type Scenario struct {
	Direction slotcatalog.Direction
	Variance  travel.VarianceLevel
}

// Job is the persisted unit of work runAndSaveSimulation drives through
// pending -> running -> completed|failed.
type Job struct {
	JobID       types.JobID
	ServiceDate time.Time
	Scenario    Scenario
	Status      JobStatus
	RunCount    int
	Results     *Summary
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// runResult is one simulated day's raw counts, reduced by aggregate().
type runResult struct {
	premiumOnTime    int
	premiumTotal     int
	nonPremiumOnTime int
	nonPremiumTotal  int
	maxLateness      float64
	lateBySlot       map[types.SlotID]int
	totalBySlot      map[types.SlotID]int
}

// Summary is Simulator.Run's output: rates across N simulated days plus
// capacity recommendations derived from configured thresholds.
type Summary struct {
	PremiumOnTimeRate    float64
	PremiumP95           float64
	PremiumWorstRun      float64
	NonPremiumOnTimeRate float64
	NonPremiumP95        float64
	NonPremiumWorstRun   float64
	MaxLatenessMinutes   float64
	AvgMaxLateness       float64
	HighLatenessSlots    []types.SlotID
	Recommendations      []string
}
