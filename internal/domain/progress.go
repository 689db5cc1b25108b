package domain

import (
	"fmt"
	"time"
)

// ProgressState is the per-user-per-activity lifecycle position.
type ProgressState string

const (
	StateNotStarted           ProgressState = "not_started"
	StateInProgress           ProgressState = "in_progress"
	StateCompletedLocked      ProgressState = "completed_locked"
	StateReplayUnlocked       ProgressState = "replay_unlocked"
	StateCompletedAfterReplay ProgressState = "completed_after_replay"
)

// TransitionEvent names the inputs that move a progress record between states.
type TransitionEvent string

const (
	EventAttemptStarted       TransitionEvent = "attempt_started"
	EventQualifyingCompletion TransitionEvent = "qualifying_completion"
	EventReplayUnlock         TransitionEvent = "replay_unlock"
)

// ProgressRecord is the authoritative completion/lock state for one user and
// one activity. Owned by the ledger; clients only read it.
type ProgressRecord struct {
	TenantID          string
	UserID            string
	ActivityID        string
	FullyCompleted    bool
	ReplayUnlocked    bool
	ReplayConsumed    bool
	CoinsAwardedTotal int64
	BadgeEarned       bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// State derives the lifecycle position from the persisted flags. A nil or
// never-persisted record is NotStarted; callers handle that before deriving.
func (r ProgressRecord) State() ProgressState {
	switch {
	case !r.FullyCompleted:
		return StateInProgress
	case r.ReplayUnlocked:
		return StateReplayUnlocked
	case r.ReplayConsumed:
		return StateCompletedAfterReplay
	default:
		return StateCompletedLocked
	}
}

// Next applies a transition event to a state and returns the resulting state.
// Illegal moves return an error; self-loops that are harmless by construction
// (re-attempting an unpaid activity, a non-qualifying completion) stay in
// place without one.
func Next(state ProgressState, ev TransitionEvent) (ProgressState, error) {
	switch ev {
	case EventAttemptStarted:
		switch state {
		case StateNotStarted, StateInProgress:
			return StateInProgress, nil
		case StateReplayUnlocked:
			return StateReplayUnlocked, nil
		case StateCompletedLocked, StateCompletedAfterReplay:
			// Direct re-entry into a locked activity grants nothing; the
			// attempt may run but the state does not move.
			return state, nil
		}
	case EventQualifyingCompletion:
		switch state {
		case StateNotStarted, StateInProgress:
			return StateCompletedLocked, nil
		case StateReplayUnlocked:
			// The unlock is consumed by the first completion after it.
			return StateCompletedAfterReplay, nil
		case StateCompletedLocked, StateCompletedAfterReplay:
			return state, nil
		}
	case EventReplayUnlock:
		switch state {
		case StateCompletedLocked, StateCompletedAfterReplay:
			return StateReplayUnlocked, nil
		case StateReplayUnlocked:
			return state, ErrAlreadyUnlocked
		case StateNotStarted, StateInProgress:
			return state, ErrNotCompleted
		}
	}
	return state, fmt.Errorf("no transition from %q on %q", state, ev)
}

// EntryAllowed reports whether a fresh attempt may start without a paid
// unlock. Clients mirror this to gate re-entry; the ledger enforces the
// payout side regardless.
func EntryAllowed(state ProgressState) bool {
	switch state {
	case StateCompletedLocked, StateCompletedAfterReplay:
		return false
	default:
		return true
	}
}
