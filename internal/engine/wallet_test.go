package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testWait = 2 * time.Second
	testTick = 10 * time.Millisecond
)

func TestBalanceCacheStartsUnconfirmed(t *testing.T) {
	cache := NewBalanceCache()
	_, ok := cache.Balance()
	require.False(t, ok)
}

func TestBalanceCacheUpdateNotifiesListeners(t *testing.T) {
	cache := NewBalanceCache()

	var seen []int64
	cancel := cache.Subscribe(func(balance int64) {
		seen = append(seen, balance)
	})

	cache.Update(10)
	cache.Update(8)

	balance, ok := cache.Balance()
	require.True(t, ok)
	require.Equal(t, int64(8), balance)
	require.Equal(t, []int64{10, 8}, seen)

	cancel()
	cache.Update(3)
	require.Equal(t, []int64{10, 8}, seen, "cancelled listeners stop receiving")
}

func TestBalanceCacheRepeatedValueIsDelivered(t *testing.T) {
	// At-least-once semantics: subscribers handle unchanged values as no-ops
	// themselves.
	cache := NewBalanceCache()
	count := 0
	cache.Subscribe(func(int64) { count++ })

	cache.Update(5)
	cache.Update(5)
	require.Equal(t, 2, count)
}
