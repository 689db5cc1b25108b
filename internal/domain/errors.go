package domain

import "errors"

var (
	// ErrInsufficientBalance indicates the wallet cannot cover the replay unlock cost.
	ErrInsufficientBalance = errors.New("wallet balance below unlock cost")
	// ErrAlreadyUnlocked indicates the replay flag is already set for this activity.
	ErrAlreadyUnlocked = errors.New("replay already unlocked")
	// ErrNotCompleted indicates the activity has not been fully completed yet.
	ErrNotCompleted = errors.New("activity not fully completed")
	// ErrUnknownActivity is returned when an activity id is absent from the catalog.
	ErrUnknownActivity = errors.New("activity not found in catalog")
	// ErrValidation marks a malformed completion payload. Reward paths fail closed on it.
	ErrValidation = errors.New("invalid completion payload")
	// ErrDuplicateAttempt is returned by repositories when an attempt key was already recorded.
	ErrDuplicateAttempt = errors.New("attempt already recorded")
)
