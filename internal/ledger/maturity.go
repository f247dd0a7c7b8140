package ledger

import (
	"errors"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// UnlockCoinData releases the explicitly locked outputs of t owned by
// local accounts: each stored coin is rewritten with no lock. Outputs that
// are not stored are skipped and t itself is not modified. It returns the
// number of coins rewritten.
func (l *Ledger) UnlockCoinData(t *tx.Transaction) (int, error) {
	return l.rewriteLocked(t, tx.Unlocked)
}

// RollbackUnlockCoinData is the inverse of UnlockCoinData: the released
// outputs are stored in their locked form again.
func (l *Ledger) RollbackUnlockCoinData(t *tx.Transaction) (int, error) {
	return l.rewriteLocked(t, tx.Locked)
}

func (l *Ledger) rewriteLocked(t *tx.Transaction, lock tx.Lock) (int, error) {
	if t == nil {
		return 0, wrap(ErrParameter, "nil transaction", nil)
	}
	if t.CoinData == nil {
		return 0, nil
	}
	related := l.related(t)
	if len(related) == 0 {
		return 0, nil
	}
	unlock := l.locks.lock(related...)
	defer unlock()

	hash := t.Hash()
	n := 0
	for i, out := range t.CoinData.To {
		if out.Lock.State() != tx.LockLocked {
			continue
		}
		owner, ok := ownedBy(out, related)
		if !ok {
			continue
		}
		op := types.Outpoint{TxID: hash, Index: uint32(i)}
		if _, err := l.store.Coin(owner, op); errors.Is(err, storage.ErrNotFound) {
			continue
		} else if err != nil {
			return n, wrap(ErrStorage, "load locked coin", err)
		}
		c := out
		c.Owner = append(types.HexBytes(nil), out.Owner...)
		c.Lock = lock
		if err := l.store.PutCoin(owner, op, c); err != nil {
			return n, wrap(ErrStorage, "rewrite locked coin", err)
		}
		n++
	}
	l.refreshLocked(related...)
	return n, nil
}
