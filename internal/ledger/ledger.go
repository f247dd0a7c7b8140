// Package ledger is the account side of the node: it tracks the coins owned
// by local accounts, answers balance queries, funds and signs transfers, and
// keeps the local transaction history consistent as blocks are connected and
// disconnected.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/Klingon-tech/klingnet-ledger/internal/account"
	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// AccountProvider resolves and unlocks local accounts.
type AccountProvider interface {
	Get(addr types.Address) (*account.Account, error)
	ValidatePassword(addr types.Address, password string) error
	Signer(addr types.Address, password string) (crypto.Signer, error)
}

// Registry answers whether addresses belong to local accounts.
type Registry interface {
	Reload() error
	IsLocal(addr types.Address) bool
	RelatedLocalAddresses(candidates []types.Address) []types.Address
}

// ChainSource is the confirmed block and transaction source.
type ChainSource interface {
	Height() uint64
	GetBlockByHeight(height uint64) (*block.Block, error)
	GetTransaction(hash types.Hash) (*tx.Transaction, error)
}

// Broadcaster relays a transaction to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, t *tx.Transaction) error
}

// Config holds the collaborators and settings of a Ledger.
type Config struct {
	Store       CoinStore
	Accounts    AccountProvider
	Registry    Registry
	Chain       ChainSource
	Broadcaster Broadcaster

	// Fee prices transactions by size. Defaults to tx.DefaultFeePerKB.
	Fee tx.FeePolicy

	// Clock supplies wall-clock time for tx timestamps and time locks.
	Clock clock.Clock

	BalanceCacheSize int
	BalanceCacheTTL  time.Duration
}

// Ledger is the account ledger.
type Ledger struct {
	store    CoinStore
	accounts AccountProvider
	registry Registry
	chain    ChainSource
	bcast    Broadcaster
	fee      tx.FeePolicy
	clock    clock.Clock

	balances *BalanceCache
	locks    *addrLocks
}

// New creates a ledger from cfg.
func New(cfg Config) (*Ledger, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("ledger: store is nil")
	case cfg.Accounts == nil:
		return nil, fmt.Errorf("ledger: account provider is nil")
	case cfg.Registry == nil:
		return nil, fmt.Errorf("ledger: registry is nil")
	case cfg.Chain == nil:
		return nil, fmt.Errorf("ledger: chain source is nil")
	case cfg.Broadcaster == nil:
		return nil, fmt.Errorf("ledger: broadcaster is nil")
	}
	l := &Ledger{
		store:    cfg.Store,
		accounts: cfg.Accounts,
		registry: cfg.Registry,
		chain:    cfg.Chain,
		bcast:    cfg.Broadcaster,
		fee:      cfg.Fee,
		clock:    cfg.Clock,
		balances: NewBalanceCache(cfg.BalanceCacheSize, cfg.BalanceCacheTTL),
		locks:    newAddrLocks(),
	}
	if l.fee == nil {
		l.fee = tx.PerKBFee(tx.DefaultFeePerKB)
	}
	if l.clock == nil {
		l.clock = clock.NewDefaultClock()
	}
	return l, nil
}

// SelectCoins runs coin selection over the coins of addr as currently
// stored. See the package-level SelectCoins for the algorithm.
func (l *Ledger) SelectCoins(addr types.Address, target uint64, baseSize int) (*CoinSelection, error) {
	unlock := l.locks.lock(addr)
	defer unlock()
	return l.selectCoins(addr, target, baseSize)
}

func (l *Ledger) selectCoins(addr types.Address, target uint64, baseSize int) (*CoinSelection, error) {
	if target == 0 {
		return nil, wrap(ErrParameter, "target amount must be positive", nil)
	}
	coins, err := l.store.Coins(addr)
	if err != nil {
		return nil, wrap(ErrStorage, "load coins", err)
	}
	return SelectCoins(coins, addr, target, baseSize, l.fee, l.clock.Now(), l.chain.Height())
}

// GetBalance returns the balance of a local address given as raw bytes.
func (l *Ledger) GetBalance(addr []byte) (Balance, error) {
	if len(addr) != types.AddressSize {
		return Balance{}, wrap(ErrParameter, fmt.Sprintf("address must be %d bytes, got %d", types.AddressSize, len(addr)), nil)
	}
	a, _ := types.AddressFromBytes(addr)
	if !l.registry.IsLocal(a) {
		return Balance{}, wrap(ErrAccountNotExist, a.String(), nil)
	}
	return l.balances.Get(a, func() (Balance, error) {
		unlock := l.locks.lock(a)
		defer unlock()
		return l.computeBalance(a)
	})
}

func (l *Ledger) computeBalance(a types.Address) (Balance, error) {
	coins, err := l.store.Coins(a)
	if err != nil {
		return Balance{}, wrap(ErrStorage, "load coins", err)
	}
	return computeBalance(coins, l.clock.Now(), l.chain.Height()), nil
}

// RefreshBalance recomputes and caches the balance of addr. Failures are
// logged and the stale entry is dropped.
func (l *Ledger) RefreshBalance(addr types.Address) {
	unlock := l.locks.lock(addr)
	defer unlock()
	l.refreshLocked(addr)
}

// refreshLocked is RefreshBalance for callers already holding addr's lock.
func (l *Ledger) refreshLocked(addrs ...types.Address) {
	for _, a := range addrs {
		b, err := l.computeBalance(a)
		if err != nil {
			l.balances.Invalidate(a)
			log.Ledger.Warn().Err(err).Str("address", a.String()).Msg("Balance refresh failed")
			continue
		}
		l.balances.Put(a, b)
	}
}
