package engine

import (
	"context"
	"errors"
	"sync"

	"example.com/rewards/internal/domain"
)

var (
	// ErrSubmissionInFlight means a submission for this attempt is already
	// underway; a second one must not start until the first resolves.
	ErrSubmissionInFlight = errors.New("completion submission already in flight")
)

// Submission pairs an attempt key with its completion payload.
type Submission struct {
	AttemptKey string
	Request    CompletionRequest
}

// Reconciler performs exactly one authoritative completion submission per
// attempt. The latch admits a single in-flight submission per attempt key;
// only a failure releases it, for an explicit retry. A duplicated trigger
// after success is a no-op returning the recorded outcome.
type Reconciler struct {
	ledger      Ledger
	broadcaster *Broadcaster
	wallet      *BalanceCache

	mu       sync.Mutex
	inflight map[string]bool
	settled  map[string]domain.CompletionResult
}

// NewReconciler constructs a Reconciler around the collaborators it keeps in
// sync.
func NewReconciler(ledger Ledger, broadcaster *Broadcaster, wallet *BalanceCache) *Reconciler {
	return &Reconciler{
		ledger:      ledger,
		broadcaster: broadcaster,
		wallet:      wallet,
		inflight:    make(map[string]bool),
		settled:     make(map[string]domain.CompletionResult),
	}
}

// Submit reconciles one attempt. The server's result is authoritative:
// whatever the activity screen guessed locally is discarded in favor of the
// returned fields. On failure nothing is broadcast and no cache moves; the
// caller may retry with the same submission.
func (r *Reconciler) Submit(ctx context.Context, sub Submission) (*domain.CompletionResult, error) {
	r.mu.Lock()
	if result, ok := r.settled[sub.AttemptKey]; ok {
		r.mu.Unlock()
		return &result, nil
	}
	if r.inflight[sub.AttemptKey] {
		r.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	r.inflight[sub.AttemptKey] = true
	r.mu.Unlock()

	result, err := r.ledger.SubmitCompletion(ctx, sub.AttemptKey, sub.Request)

	r.mu.Lock()
	delete(r.inflight, sub.AttemptKey)
	if err == nil {
		r.settled[sub.AttemptKey] = *result
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	r.wallet.Update(result.Balance)
	r.broadcaster.Publish(*result)
	return result, nil
}

// Unlock requests a paid replay unlock and updates the balance cache from
// the confirmed response. Failures leave every cache untouched.
func (r *Reconciler) Unlock(ctx context.Context, activityID string) (*domain.UnlockResult, error) {
	unlock, err := r.ledger.UnlockReplay(ctx, activityID)
	if err != nil {
		return nil, err
	}
	r.wallet.Update(unlock.Balance)
	return unlock, nil
}

// CanEnter asks the ledger whether a fresh attempt may start for the
// activity. Locked activities require a paid unlock first. The ledger
// enforces payouts regardless; this only spares the user a futile run.
func (r *Reconciler) CanEnter(ctx context.Context, activityID string) (bool, error) {
	progress, err := r.ledger.QueryProgress(ctx, activityID)
	if err != nil {
		return false, err
	}
	rec := domain.ProgressRecord{
		FullyCompleted: progress.FullyCompleted,
		ReplayUnlocked: progress.ReplayUnlocked,
	}
	return domain.EntryAllowed(rec.State()), nil
}

// RefreshBalance pulls the confirmed balance into the cache, for surfaces
// that cold-start before any completion has run.
func (r *Reconciler) RefreshBalance(ctx context.Context) (int64, error) {
	balance, err := r.ledger.WalletBalance(ctx)
	if err != nil {
		return 0, err
	}
	r.wallet.Update(balance)
	return balance, nil
}
