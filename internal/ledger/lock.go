package ledger

import (
	"sort"
	"sync"

	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// addrLocks is a keyed mutex: one lock per address, created on demand and
// dropped when no goroutine holds or waits for it.
type addrLocks struct {
	mu    sync.Mutex
	locks map[types.Address]*addrLock
}

type addrLock struct {
	sync.Mutex
	refs int
}

func newAddrLocks() *addrLocks {
	return &addrLocks{locks: make(map[types.Address]*addrLock)}
}

// lock acquires the locks of addrs in byte order, skipping duplicates, and
// returns the function that releases them.
func (l *addrLocks) lock(addrs ...types.Address) func() {
	keys := make([]types.Address, 0, len(addrs))
	seen := make(map[types.Address]struct{}, len(addrs))
	for _, a := range addrs {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		keys = append(keys, a)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })

	held := make([]*addrLock, 0, len(keys))
	for _, k := range keys {
		l.mu.Lock()
		al, ok := l.locks[k]
		if !ok {
			al = &addrLock{}
			l.locks[k] = al
		}
		al.refs++
		l.mu.Unlock()

		al.Lock()
		held = append(held, al)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, keys[i])
			}
			l.mu.Unlock()
		}
	}
}

// size returns the number of live lock entries.
func (l *addrLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
