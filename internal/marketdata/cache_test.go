package marketdata

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheTTL(t *testing.T) {
	cache := NewCache(30*time.Second, 10)

	now := time.Now()
	cache.SetNowFunc(func() time.Time { return now })

	cache.Set("AAPL", &Quote{Symbol: "AAPL", Price: 187.5})

	got, ok := cache.Get("AAPL")
	require.True(t, ok)
	require.Equal(t, 187.5, got.Price)

	// expired entries behave as absent
	now = now.Add(31 * time.Second)
	_, ok = cache.Get("AAPL")
	require.False(t, ok)
}

func TestCacheEvict(t *testing.T) {
	cache := NewCache(time.Minute, 10)

	cache.Set("AAPL", &Quote{Symbol: "AAPL"})
	require.Equal(t, 1, cache.Len())

	cache.Evict("AAPL")
	require.Equal(t, 0, cache.Len())

	_, ok := cache.Get("AAPL")
	require.False(t, ok)
	require.Nil(t, cache.History("AAPL"))
}

func TestCacheHistoryBounded(t *testing.T) {
	cache := NewCache(time.Minute, 3)

	for i := 0; i < 5; i++ {
		cache.Set("AAPL", &Quote{Symbol: "AAPL", Price: float64(i)})
	}

	history := cache.History("AAPL")
	require.Len(t, history, 3)

	// oldest first, the first two writes were dropped
	for i, quote := range history {
		require.Equal(t, float64(i+2), quote.Price, fmt.Sprintf("history[%d]", i))
	}

	// the live quote is the latest write
	got, ok := cache.Get("AAPL")
	require.True(t, ok)
	require.Equal(t, 4.0, got.Price)
}
