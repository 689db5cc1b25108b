package domain

import "math"

// NormalizeScore maps an activity's raw score onto coin units.
//
// Legacy activities report an overloaded scalar: either a correct-answer count
// or an already coin-denominated total. A raw score within the question count
// is treated as a count and multiplied by the per-question coin value;
// anything larger passes through unchanged.
func NormalizeScore(rawScore, questionCount int, totalCoinReward int64) int64 {
	perCorrect := int64(1)
	if questionCount > 0 {
		perCorrect = int64(math.Round(float64(totalCoinReward) / float64(questionCount)))
		if perCorrect < 1 {
			perCorrect = 1
		}
	}

	if rawScore <= questionCount {
		return int64(rawScore) * perCorrect
	}
	return int64(rawScore)
}

// CoinsForCorrect is the unambiguous normalization path for activities that
// report an explicit correct-answer count. New activity runners use this; the
// overloaded-scalar path above remains for screens that predate it.
func CoinsForCorrect(correctCount, totalQuestions int, totalCoinReward int64) int64 {
	if correctCount < 0 {
		correctCount = 0
	}
	if totalQuestions > 0 && correctCount > totalQuestions {
		correctCount = totalQuestions
	}
	return NormalizeScore(correctCount, totalQuestions, totalCoinReward)
}

// ResolveMaxScore computes the ceiling against which a performance score is
// judged. Taking the max of all three inputs keeps a misdeclared client value
// from lowering the bar.
func ResolveMaxScore(declaredMax, totalCoinReward int64, questionCount int) int64 {
	out := declaredMax
	if totalCoinReward > out {
		out = totalCoinReward
	}
	if qc := int64(questionCount); qc > out {
		out = qc
	}
	return out
}
