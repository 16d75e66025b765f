// README: Capacity planning domain types — daily budgets and the
// process-wide Premium subscriber ceiling.
package capacity

import "time"

// DailyCapacity is the computed budget for one service date.
type DailyCapacity struct {
	ServiceDate            time.Time
	PremiumCapacity        int
	NonPremiumHourlyBudget int
	NonPremiumDailyBudget  int
}

// HourBucket identifies one clock hour (0-23) within a service date, the
// unit CapacityPlanner's per-hour checks operate over.
type HourBucket struct {
	ServiceDate time.Time
	Hour        int
}
