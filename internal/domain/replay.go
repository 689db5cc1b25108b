package domain

// Replay unlock pricing is tiered by the activity's ordinal position in the
// catalog: later activities carry larger rewards, so re-opening them costs
// more.
const (
	replayCostTier1 = 2
	replayCostTier2 = 4
	replayCostTier3 = 6
	replayCostTier4 = 8
)

// ReplayUnlockCost returns the coin cost to unlock a replay for the activity
// at the given catalog ordinal (1-based).
func ReplayUnlockCost(ordinal int) int64 {
	switch {
	case ordinal <= 25:
		return replayCostTier1
	case ordinal <= 50:
		return replayCostTier2
	case ordinal <= 75:
		return replayCostTier3
	default:
		return replayCostTier4
	}
}

// UnlockResult reports the outcome of a successful replay unlock.
type UnlockResult struct {
	ActivityID     string
	ReplayUnlocked bool
	Cost           int64
	Balance        int64
}
