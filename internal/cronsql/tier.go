package cronsql

import "time"

// Tier is one scheduling bucket: a folder name and the minimum time between
// two runs of the same file in that folder.
type Tier struct {
	Name     string
	Interval time.Duration
}

const (
	TierHourly  = "hourly"
	TierDaily   = "daily"
	TierWeekly  = "weekly"
	TierMonthly = "monthly"
)

var defaultTiers = [...]Tier{
	{Name: TierHourly, Interval: time.Hour},
	{Name: TierDaily, Interval: 24 * time.Hour},
	{Name: TierWeekly, Interval: 7 * 24 * time.Hour},
	{Name: TierMonthly, Interval: 30 * 24 * time.Hour},
}

// Tiers returns the fixed tier set in processing order.
func Tiers() []Tier {
	out := make([]Tier, len(defaultTiers))
	copy(out, defaultTiers[:])
	return out
}

// TierByName looks up one of the fixed tiers.
func TierByName(name string) (Tier, bool) {
	for _, t := range defaultTiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}
