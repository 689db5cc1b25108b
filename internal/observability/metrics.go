package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	completionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reward_ledger",
		Subsystem: "persistence",
		Name:      "last_completion_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completion persisted to Postgres.",
	})
	coinsPaidCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reward_ledger",
		Subsystem: "payout",
		Name:      "coins_paid_total",
		Help:      "Total coins credited to wallets by qualifying completions.",
	})
	completionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward_ledger",
		Subsystem: "payout",
		Name:      "completions_total",
		Help:      "Completion submissions reconciled, partitioned by outcome.",
	}, []string{"outcome"})
	replayUnlockCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reward_ledger",
		Subsystem: "wallet",
		Name:      "replay_unlocks_total",
		Help:      "Replay unlocks purchased.",
	})
	coinsSpentCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reward_ledger",
		Subsystem: "wallet",
		Name:      "coins_spent_total",
		Help:      "Total coins debited from wallets for replay unlocks.",
	})
)

func init() {
	prometheus.MustRegister(
		completionPersistGauge,
		coinsPaidCounter,
		completionsCounter,
		replayUnlockCounter,
		coinsSpentCounter,
	)
}

// RecordCompletionPersisted updates the persistence watermark gauge and the
// outcome counters.
func RecordCompletionPersisted(ts time.Time, coins int64, isReplay bool) {
	if !ts.IsZero() {
		completionPersistGauge.Set(float64(ts.Unix()))
	}
	switch {
	case isReplay:
		completionsCounter.WithLabelValues("replay").Inc()
	case coins > 0:
		completionsCounter.WithLabelValues("paid").Inc()
		coinsPaidCounter.Add(float64(coins))
	default:
		completionsCounter.WithLabelValues("zero").Inc()
	}
}

// RecordReplayUnlocked counts an unlock purchase and the coins it debited.
func RecordReplayUnlocked(cost int64) {
	replayUnlockCounter.Inc()
	coinsSpentCounter.Add(float64(cost))
}
