// Package domain implements the reward reconciliation logic for the ledger.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// CompletionInput is one attempt's completion submission as received from a
// client. Every reward-relevant field is re-derived or clamped server-side;
// client assertions are advisory only.
type CompletionInput struct {
	TenantID         string
	UserID           string
	ActivityID       string
	AttemptKey       string
	PerformanceScore int64
	DeclaredMaxScore int64
	CorrectCount     int
	LevelsCompleted  int
	TotalLevels      int
	IsReplayHint     bool
	QuestionCount    int
	TotalCoinReward  int64
	TotalXPReward    int64
	Badge            *BadgeDescriptor
}

// CompletionResult is the authoritative outcome of a completion submission.
// Clients must override any local guess with these fields.
type CompletionResult struct {
	ActivityID         string
	CoinsEarned        int64
	XPEarned           int64
	BadgeEarned        bool
	BadgeAlreadyEarned bool
	AllAnswersCorrect  bool
	FullyCompleted     bool
	IsReplay           bool
	ReplayUnlocked     bool
	Balance            int64
}

// Cursor models the pagination token for progress listings.
type Cursor struct {
	UpdatedAt  time.Time
	ActivityID string
}

// Repository captures persistence operations for the ledger.
//
// RecordCompletion must persist the progress record, the wallet credit, the
// attempt row, and the broadcast events in a single transaction, returning
// the confirmed balance. A previously recorded attempt key yields
// ErrDuplicateAttempt with no mutation.
//
// UnlockReplay must be a compare-and-set on (replay_unlocked=false AND
// balance>=cost) so duplicated requests cannot double-debit.
type Repository interface {
	FindAttempt(ctx context.Context, tenantID, userID, activityID, attemptKey string) (*CompletionResult, error)
	GetProgress(ctx context.Context, tenantID, userID, activityID string) (*ProgressRecord, error)
	RecordCompletion(ctx context.Context, rec ProgressRecord, attemptKey string, result CompletionResult) (int64, error)
	UnlockReplay(ctx context.Context, tenantID, userID, activityID string, cost int64) (int64, error)
	ListProgress(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]ProgressRecord, *Cursor, error)
	WalletBalance(ctx context.Context, tenantID, userID string) (int64, error)
}

// Ordinals resolves an activity id to its 1-based catalog position.
// Implemented by the activity catalog.
type Ordinals interface {
	Ordinal(activityID string) (int, bool)
}

// Service orchestrates reward reconciliation workflows.
type Service struct {
	repo     Repository
	ordinals Ordinals
}

// NewService constructs a Service.
func NewService(repo Repository, ordinals Ordinals) *Service {
	return &Service{repo: repo, ordinals: ordinals}
}

// Validate fails closed on malformed activity metadata: a payload the ledger
// cannot trust must never reach a payout decision.
func (in CompletionInput) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(in.ActivityID) == "" {
		return fmt.Errorf("%w: activity id is required", ErrValidation)
	}
	if strings.TrimSpace(in.AttemptKey) == "" {
		return fmt.Errorf("%w: attempt key is required", ErrValidation)
	}
	if in.PerformanceScore < 0 {
		return fmt.Errorf("%w: performance score must be >= 0", ErrValidation)
	}
	if in.QuestionCount < 0 {
		return fmt.Errorf("%w: question count must be >= 0", ErrValidation)
	}
	if in.CorrectCount < 0 {
		return fmt.Errorf("%w: correct count must be >= 0", ErrValidation)
	}
	if in.QuestionCount > 0 && in.CorrectCount > in.QuestionCount {
		return fmt.Errorf("%w: correct count exceeds question count", ErrValidation)
	}
	if in.TotalCoinReward < 0 || in.TotalXPReward < 0 {
		return fmt.Errorf("%w: rewards must be >= 0", ErrValidation)
	}
	if in.LevelsCompleted < 0 || in.TotalLevels < 0 || in.LevelsCompleted > in.TotalLevels {
		return fmt.Errorf("%w: inconsistent level counts", ErrValidation)
	}
	return nil
}

// SubmitCompletion reconciles exactly one completion per attempt. The second
// return value reports an idempotent replay of a previously recorded attempt.
func (s *Service) SubmitCompletion(ctx context.Context, in CompletionInput) (*CompletionResult, bool, error) {
	if err := in.Validate(); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindAttempt(ctx, in.TenantID, in.UserID, in.ActivityID, in.AttemptKey)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	rec, err := s.repo.GetProgress(ctx, in.TenantID, in.UserID, in.ActivityID)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		now := time.Now().UTC()
		rec = &ProgressRecord{
			TenantID:   in.TenantID,
			UserID:     in.UserID,
			ActivityID: in.ActivityID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	maxScore := ResolveMaxScore(in.DeclaredMaxScore, in.TotalCoinReward, in.QuestionCount)

	// A count-denominated score tops out below maxScore when the reward does
	// not divide evenly across questions (3 of 3 on a 10-coin activity scores
	// round(10/3)*3 = 9). Judge completeness against the highest score a
	// flawless run can actually reach.
	achievableMax := maxScore
	if in.QuestionCount > 0 {
		if byCount := CoinsForCorrect(in.QuestionCount, in.QuestionCount, in.TotalCoinReward); byCount < achievableMax {
			achievableMax = byCount
		}
	}

	scoreOK := in.PerformanceScore >= achievableMax
	if in.CorrectCount > 0 && in.QuestionCount > 0 {
		// An explicit correct count settles it without rounding heuristics.
		scoreOK = in.CorrectCount >= in.QuestionCount
	}
	allCorrect := scoreOK &&
		(in.TotalLevels == 0 || in.LevelsCompleted >= in.TotalLevels)

	// The real replay flag comes from the persisted record, never from the
	// client hint.
	isReplay := rec.FullyCompleted && rec.ReplayUnlocked
	if in.IsReplayHint != isReplay {
		log.Printf("completion replay hint mismatch (activity=%s, hint=%t, actual=%t)", in.ActivityID, in.IsReplayHint, isReplay)
	}

	// All-or-nothing payout: coins and XP are paid once, on the first fully
	// correct completion. Replays and re-entries after payout earn nothing.
	var coins, xp int64
	if allCorrect && !isReplay && !rec.FullyCompleted {
		coins = in.PerformanceScore
		if coins > in.TotalCoinReward {
			coins = in.TotalCoinReward
		}
		if remaining := in.TotalCoinReward - rec.CoinsAwardedTotal; coins > remaining {
			coins = remaining
		}
		if coins < 0 {
			coins = 0
		}
		xp = in.TotalXPReward
	}

	badge := DecideBadge(*rec, in.Badge, in.PerformanceScore, achievableMax)

	next := *rec
	next.FullyCompleted = rec.FullyCompleted || allCorrect
	if isReplay {
		next.ReplayUnlocked = false
		next.ReplayConsumed = true
	}
	next.CoinsAwardedTotal += coins
	if badge.Earned {
		next.BadgeEarned = true
	}
	next.UpdatedAt = time.Now().UTC()

	result := CompletionResult{
		ActivityID:         in.ActivityID,
		CoinsEarned:        coins,
		XPEarned:           xp,
		BadgeEarned:        badge.Earned,
		BadgeAlreadyEarned: badge.AlreadyEarned,
		AllAnswersCorrect:  allCorrect,
		FullyCompleted:     next.FullyCompleted,
		IsReplay:           isReplay,
		ReplayUnlocked:     next.ReplayUnlocked,
	}

	balance, err := s.repo.RecordCompletion(ctx, next, in.AttemptKey, result)
	if errors.Is(err, ErrDuplicateAttempt) {
		// Lost a race with a concurrent duplicate submission; the stored
		// outcome is the authoritative one.
		stored, findErr := s.repo.FindAttempt(ctx, in.TenantID, in.UserID, in.ActivityID, in.AttemptKey)
		if findErr != nil {
			return nil, false, findErr
		}
		if stored == nil {
			return nil, false, err
		}
		return stored, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	result.Balance = balance
	return &result, false, nil
}

// UnlockReplay debits the tiered cost and flips the replay flag. The debit
// and the flag flip succeed or fail together; no speculative mutation.
func (s *Service) UnlockReplay(ctx context.Context, tenantID, userID, activityID string) (*UnlockResult, error) {
	ordinal, ok := s.ordinals.Ordinal(activityID)
	if !ok {
		return nil, ErrUnknownActivity
	}
	cost := ReplayUnlockCost(ordinal)

	balance, err := s.repo.UnlockReplay(ctx, tenantID, userID, activityID, cost)
	if err != nil {
		return nil, err
	}

	return &UnlockResult{
		ActivityID:     activityID,
		ReplayUnlocked: true,
		Cost:           cost,
		Balance:        balance,
	}, nil
}

// GetProgress returns the progress record for one activity. Unknown pairs
// come back as a zero-value NotStarted record rather than an error.
func (s *Service) GetProgress(ctx context.Context, tenantID, userID, activityID string) (*ProgressRecord, error) {
	rec, err := s.repo.GetProgress(ctx, tenantID, userID, activityID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &ProgressRecord{TenantID: tenantID, UserID: userID, ActivityID: activityID}, nil
	}
	return rec, nil
}

// ListProgress fetches progress records with cursor pagination.
func (s *Service) ListProgress(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]ProgressRecord, *Cursor, error) {
	return s.repo.ListProgress(ctx, tenantID, userID, cursor, limit)
}

// WalletBalance returns the confirmed coin balance for a user.
func (s *Service) WalletBalance(ctx context.Context, tenantID, userID string) (int64, error) {
	return s.repo.WalletBalance(ctx, tenantID, userID)
}
