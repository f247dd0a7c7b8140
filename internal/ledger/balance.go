package ledger

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Balance cache defaults.
const (
	DefaultBalanceCacheSize = 1024
	DefaultBalanceCacheTTL  = 30 * time.Second
)

// Balance summarizes the coins of one address. Locked covers both coins
// waiting for an explicit unlock and coins whose time lock has not matured.
type Balance struct {
	Total  uint64 `json:"total"`
	Usable uint64 `json:"usable"`
	Locked uint64 `json:"locked"`
}

// computeBalance sums coins as seen at now with the chain at bestHeight.
func computeBalance(coins []Unspent, now time.Time, bestHeight uint64) Balance {
	var b Balance
	for _, u := range coins {
		b.Total += u.Coin.Amount
		if u.Coin.Lock.Usable(now, bestHeight) {
			b.Usable += u.Coin.Amount
		} else {
			b.Locked += u.Coin.Amount
		}
	}
	return b
}

// BalanceCache caches balances per address. Entries expire after the TTL
// so time locks that mature without a ledger mutation are picked up.
// Concurrent misses for the same address share a single load.
type BalanceCache struct {
	lru   *expirable.LRU[types.Address, Balance]
	group singleflight.Group

	// gen counts Put and Invalidate calls per address. A load only fills
	// the cache if no write happened while it ran.
	mu  sync.Mutex
	gen map[types.Address]uint64
}

// NewBalanceCache creates a cache holding up to size entries for ttl.
// Non-positive arguments select the defaults.
func NewBalanceCache(size int, ttl time.Duration) *BalanceCache {
	if size <= 0 {
		size = DefaultBalanceCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultBalanceCacheTTL
	}
	return &BalanceCache{
		lru: expirable.NewLRU[types.Address, Balance](size, nil, ttl),
		gen: make(map[types.Address]uint64),
	}
}

// Get returns the cached balance of addr, calling load on a miss.
func (c *BalanceCache) Get(addr types.Address, load func() (Balance, error)) (Balance, error) {
	if b, ok := c.lru.Get(addr); ok {
		return b, nil
	}
	v, err, _ := c.group.Do(string(addr[:]), func() (interface{}, error) {
		c.mu.Lock()
		start := c.gen[addr]
		c.mu.Unlock()

		b, err := load()
		if err != nil {
			return Balance{}, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen[addr] != start {
			if newer, ok := c.lru.Peek(addr); ok {
				return newer, nil
			}
			return b, nil
		}
		c.lru.Add(addr, b)
		return b, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return v.(Balance), nil
}

// Put stores b as the balance of addr.
func (c *BalanceCache) Put(addr types.Address, b Balance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[addr]++
	c.lru.Add(addr, b)
}

// Invalidate drops the cached balance of addr.
func (c *BalanceCache) Invalidate(addr types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[addr]++
	c.lru.Remove(addr)
}

// Len returns the number of cached entries.
func (c *BalanceCache) Len() int {
	return c.lru.Len()
}
