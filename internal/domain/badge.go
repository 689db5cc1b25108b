package domain

// BadgeDescriptor is the optional one-time collectible attached to an
// activity. Threshold is the minimum performance score (in coin units) that
// qualifies; zero means a perfect score is required.
type BadgeDescriptor struct {
	Name      string
	ImageURL  string
	Threshold int64
}

// BadgeDecision is the outcome of a badge evaluation for one completion.
type BadgeDecision struct {
	Earned        bool
	AlreadyEarned bool
}

// DecideBadge determines whether this completion newly grants the badge.
// A record that already holds the badge is never re-granted, regardless of
// score. Replays may still earn a badge that was missed on the paying run;
// badges are credentials, not currency.
func DecideBadge(rec ProgressRecord, badge *BadgeDescriptor, score, maxScore int64) BadgeDecision {
	if badge == nil {
		return BadgeDecision{}
	}
	if rec.BadgeEarned {
		return BadgeDecision{AlreadyEarned: true}
	}

	threshold := badge.Threshold
	if threshold <= 0 {
		threshold = maxScore
	}
	if score >= threshold {
		return BadgeDecision{Earned: true}
	}
	return BadgeDecision{}
}
