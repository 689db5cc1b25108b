package engine

import (
	"sync"

	"example.com/rewards/internal/domain"
)

// CompletionNotice is the general completion notification every surface
// receives, including zero-payout completions, so nothing is left showing a
// stale in-progress status.
type CompletionNotice struct {
	ActivityID     string
	FullyCompleted bool
	IsReplay       bool
	ReplayUnlocked bool
}

// ReplayNotice is the narrower notification emitted after a replay
// completion, strictly after the general one.
type ReplayNotice struct {
	ActivityID     string
	ReplayUnlocked bool
}

// Subscriber receives reward outcome notifications. Delivery is
// at-least-once; implementations must treat a repeated notification with
// unchanged state as a no-op.
type Subscriber interface {
	OnCompletion(CompletionNotice)
	OnReplayed(ReplayNotice)
}

// Broadcaster fans authoritative completion outcomes out to subscribed UI
// surfaces so they update without refetching.
type Broadcaster struct {
	mu   sync.RWMutex
	next int
	subs map[int]Subscriber
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]Subscriber)}
}

// Subscribe registers a subscriber and returns its cancel function.
func (b *Broadcaster) Subscribe(sub Subscriber) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers the completion notice to every subscriber and, for
// replays, the replayed notice afterwards. The completion notice always
// precedes the replayed notice for the same outcome.
func (b *Broadcaster) Publish(result domain.CompletionResult) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	completion := CompletionNotice{
		ActivityID:     result.ActivityID,
		FullyCompleted: result.FullyCompleted,
		IsReplay:       result.IsReplay,
		ReplayUnlocked: result.ReplayUnlocked,
	}
	for _, sub := range subs {
		sub.OnCompletion(completion)
	}

	if !result.IsReplay {
		return
	}
	replayed := ReplayNotice{
		ActivityID:     result.ActivityID,
		ReplayUnlocked: result.ReplayUnlocked,
	}
	for _, sub := range subs {
		sub.OnReplayed(replayed)
	}
}
