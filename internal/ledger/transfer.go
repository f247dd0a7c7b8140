package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/account"
	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Transfer moves amount from the local account from to to, paying the fee
// and returning any surplus to from. The signed transaction is recorded as
// unconfirmed before it is broadcast; if the broadcast fails it stays
// recorded and the error is returned with its hash.
func (l *Ledger) Transfer(ctx context.Context, from, to types.Address, amount uint64, password, remark string) (types.Hash, error) {
	switch {
	case from.IsZero():
		return types.Hash{}, wrap(ErrParameter, "missing sender address", nil)
	case to.IsZero():
		return types.Hash{}, wrap(ErrParameter, "missing recipient address", nil)
	case amount == 0:
		return types.Hash{}, wrap(ErrParameter, "amount must be positive", nil)
	case len(remark) > tx.MaxRemarkLen:
		return types.Hash{}, wrap(ErrParameter, fmt.Sprintf("remark is %d bytes, max %d", len(remark), tx.MaxRemarkLen), nil)
	}

	acct, err := l.accounts.Get(from)
	if errors.Is(err, account.ErrNotFound) {
		return types.Hash{}, wrap(ErrAccountNotExist, from.String(), nil)
	}
	if err != nil {
		return types.Hash{}, wrap(ErrStorage, "load account", err)
	}
	if acct.IsEncrypted() {
		if password == "" {
			return types.Hash{}, wrap(ErrParameter, "password required", nil)
		}
		if err := l.accounts.ValidatePassword(from, password); err != nil {
			return types.Hash{}, wrap(ErrParameter, "wrong password", err)
		}
	}

	unlock := l.locks.lock(from, to)
	defer unlock()

	b := tx.NewBuilder(tx.TypeTransfer, l.clock.Now().UnixMilli()).SetRemark(remark)
	b.AddOutput(tx.NewCoin(to, amount, tx.Unlocked))

	sel, err := l.selectCoins(from, amount, b.Size()+tx.P2PKHScriptSigSize)
	if err != nil {
		return types.Hash{}, err
	}
	if !sel.Enough {
		return types.Hash{}, wrap(ErrBalanceNotEnough, from.String(), nil)
	}
	for _, in := range sel.Inputs {
		b.AddInput(in.PrevOut, in.Coin)
	}
	sel.Change.WhenSome(func(c tx.Coin) {
		b.AddOutput(c)
	})

	signer, err := l.accounts.Signer(from, password)
	if err != nil {
		return types.Hash{}, wrap(ErrSigning, "unlock key", err)
	}
	if err := b.Sign(signer); err != nil {
		return types.Hash{}, wrap(ErrSigning, "sign", err)
	}
	t := b.Build()
	if err := t.Verify(); err != nil {
		return types.Hash{}, wrap(ErrVerification, "verify", err)
	}
	hash := t.Hash()

	related := l.related(t)
	if len(related) == 0 {
		related = []types.Address{from}
	}
	if _, err := l.save(t, StatusUnconfirmed, related); err != nil {
		return types.Hash{}, err
	}
	l.trackPending(t, StatusUnconfirmed)
	l.refreshLocked(related...)

	log.Ledger.Info().
		Str("tx", hash.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Uint64("amount", amount).
		Uint64("fee", sel.Fee).
		Msg("Transfer created")

	if err := l.bcast.Broadcast(ctx, t); err != nil {
		return hash, wrap(ErrUnknown, "broadcast", err)
	}
	return hash, nil
}
