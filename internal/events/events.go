// Package events defines the payloads published by the reward ledger.
package events

import "time"

// CompletionRecorded is emitted for every reconciled completion attempt,
// including zero-payout ones.
type CompletionRecorded struct {
	TenantID          string    `json:"tenant_id"`
	UserID            string    `json:"user_id"`
	ActivityID        string    `json:"activity_id"`
	AttemptKey        string    `json:"attempt_key"`
	CoinsEarned       int64     `json:"coins_earned"`
	XPEarned          int64     `json:"xp_earned"`
	BadgeEarned       bool      `json:"badge_earned"`
	AllAnswersCorrect bool      `json:"all_answers_correct"`
	FullyCompleted    bool      `json:"fully_completed"`
	IsReplay          bool      `json:"is_replay"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// ActivityReplayed is emitted when a completion consumed a replay unlock.
type ActivityReplayed struct {
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	ActivityID string    `json:"activity_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WalletBalanceChanged is emitted whenever a wallet is credited or debited.
type WalletBalanceChanged struct {
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	ActivityID string    `json:"activity_id"`
	Delta      int64     `json:"delta"`
	Balance    int64     `json:"balance"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
