package ledger

import (
	"math"
	"sort"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// CoinSelection holds the result of coin selection.
type CoinSelection struct {
	Enough bool       // Whether the selected inputs cover target plus fee.
	Inputs []tx.Input // Selected coins in selection order; empty unless Enough.
	Fee    uint64     // Fee at the final transaction size.
	Change fn.Option[tx.Coin]
}

// Total returns the sum of the selected input amounts.
func (cs *CoinSelection) Total() uint64 {
	var total uint64
	for _, in := range cs.Inputs {
		total += in.Coin.Amount
	}
	return total
}

// SelectCoins chooses coins owned by addr to fund target. Coins are taken in
// ascending amount order (ties by outpoint), skipping those not usable at
// now/bestHeight. After each coin the fee is recomputed for baseSize plus
// the inputs so far; selection stops once the accumulated amount covers
// target plus that fee. Any surplus is returned to addr as an unlocked
// change coin.
//
// The result is greedy, not the minimal input set.
func SelectCoins(coins []Unspent, addr types.Address, target uint64, baseSize int,
	fee tx.FeePolicy, now time.Time, bestHeight uint64) (*CoinSelection, error) {

	if target == 0 {
		return nil, wrap(ErrParameter, "target amount must be positive", nil)
	}
	if baseSize < 0 {
		return nil, wrap(ErrParameter, "negative base size", nil)
	}
	if len(coins) == 0 {
		return &CoinSelection{}, nil
	}

	sorted := make([]Unspent, len(coins))
	copy(sorted, coins)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Coin.Amount != sorted[j].Coin.Amount {
			return sorted[i].Coin.Amount < sorted[j].Coin.Amount
		}
		return sorted[i].Outpoint.Compare(sorted[j].Outpoint) < 0
	})

	var (
		selected []tx.Input
		total    uint64
		size     = baseSize
	)
	for _, u := range sorted {
		if !u.Coin.Lock.Usable(now, bestHeight) {
			continue
		}
		in := u.Input()
		selected = append(selected, in)
		size += in.Size()
		f := fee.ComputeFee(size)
		if total > math.MaxUint64-u.Coin.Amount {
			return nil, wrap(ErrUnknown, "selected amount overflows", nil)
		}
		total += u.Coin.Amount

		if target > math.MaxUint64-f {
			// target+fee is not representable; no set of coins can cover it.
			return &CoinSelection{}, nil
		}
		if total >= target+f {
			cs := &CoinSelection{Enough: true, Inputs: selected, Fee: f}
			if change := total - target - f; change > 0 {
				cs.Change = fn.Some(tx.NewCoin(addr, change, tx.Unlocked))
			}
			return cs, nil
		}
	}
	return &CoinSelection{}, nil
}
